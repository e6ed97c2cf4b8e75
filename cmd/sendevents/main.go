// Command sendevents posts a sample batch to a running ingest server and
// prints the summary. It is a development aid for exercising the pipeline
// end to end.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/Priya8975/error-ingest/internal/auth"
	"github.com/Priya8975/error-ingest/internal/domain"
	"github.com/google/uuid"
)

func main() {
	var (
		baseURL = flag.String("url", "http://localhost:8080", "ingest server base URL")
		origin  = flag.String("origin", "", "Origin header identifying the tenant")
		tenant  = flag.String("tenant", "", "X-Tenant-Hint header")
		count   = flag.Int("n", 3, "number of events in the batch")
		userID  = flag.String("user", "", "user id to sign into a bearer token")
		secret  = flag.String("secret", os.Getenv("JWT_SECRET"), "token secret used with -user")
		release = flag.String("release", "1.4.0", "app_version reported by the sample events")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	body, err := json.Marshal(sampleBatch(*count, *release))
	if err != nil {
		logger.Error("encoding batch", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *baseURL+"/api/v1/ingest", bytes.NewReader(body))
	if err != nil {
		logger.Error("building request", "error", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) Chrome/120.0 sendevents")
	if *origin != "" {
		req.Header.Set("Origin", *origin)
	}
	if *tenant != "" {
		req.Header.Set("X-Tenant-Hint", *tenant)
	}
	if *userID != "" {
		token, err := signUser(*secret, *userID)
		if err != nil {
			logger.Error("signing token", "error", err)
			os.Exit(1)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Error("posting batch", "error", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	fmt.Printf("%d %s\n", resp.StatusCode, bytes.TrimSpace(out))
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}

func signUser(secret, userID string) (string, error) {
	v, err := auth.NewVerifier(secret, "")
	if err != nil {
		return "", err
	}
	return v.Issue(domain.Actor{UserID: userID}, 10*time.Minute)
}

func sampleBatch(n int, version string) []map[string]any {
	batch := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, map[string]any{
			"level":      "error",
			"type":       "error",
			"source":     "web",
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
			"message":    fmt.Sprintf("Payment %d declined for order %d", i+1, 1000+i),
			"error_code": "PAY_DECLINED",
			"route":      "/checkout",
			"error": map[string]any{
				"name":    "PaymentError",
				"message": "card declined",
				"stack":   "PaymentError: card declined\n    at chargeCard (https://cdn.example.com/assets/app.min.js:1:1042)\n    at submit (https://cdn.example.com/assets/app.min.js:1:2210)",
			},
			"release": map[string]any{
				"app_id":      "shop",
				"app_version": version,
				"env":         "production",
			},
			"request_id": uuid.NewString(),
			"context": map[string]any{
				"cart_items": i + 1,
				"email":      "buyer@example.com",
			},
		})
	}
	return batch
}
