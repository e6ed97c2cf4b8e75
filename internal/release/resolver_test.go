package release

import (
	"context"
	"errors"
	"testing"

	"github.com/Priya8975/error-ingest/internal/domain"
)

func TestCompileGlob(t *testing.T) {
	tests := []struct {
		glob  string
		path  string
		match bool
	}{
		{"src/payments/*.ts", "src/payments/charge.ts", true},
		{"src/payments/*.ts", "src/payments/nested/charge.ts", false},
		{"src/**", "src/payments/nested/charge.ts", true},
		{"src/**/charge.ts", "src/charge.ts", true},
		{"src/**/charge.ts", "src/a/b/charge.ts", true},
		{"src/?.ts", "src/a.ts", true},
		{"src/?.ts", "src/ab.ts", false},
		{"src/a?b.ts", "src/a/b.ts", false},
		{"SRC/Payments/*", "src/payments/charge.ts", true},
		{"./src/app.(v2).js", "src/app.(v2).js", true},
		{"src/app.js", "src/appXjs", false},
	}

	for _, tt := range tests {
		re, err := CompileGlob(tt.glob)
		if err != nil {
			t.Fatalf("CompileGlob(%q): %v", tt.glob, err)
		}
		if got := re.MatchString(tt.path); got != tt.match {
			t.Errorf("glob %q vs %q: got %v, want %v", tt.glob, tt.path, got, tt.match)
		}
	}
}

func TestSpecificity(t *testing.T) {
	if a, b := Specificity("src/payments/*.ts"), Specificity("src/**"); a <= b {
		t.Errorf("src/payments/*.ts (%d) should outrank src/** (%d)", a, b)
	}
	if got := Specificity("src/**"); got != 4 {
		t.Errorf("Specificity(src/**) = %d, want 4", got)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://cdn.example.com/assets/App.js?v=3#L1", "assets/app.js"},
		{"webpack:///./src/Payments/charge.ts", "src/payments/charge.ts"},
		{`C:\build\src\index.ts`, "c:/build/src/index.ts"},
		{"/src//lib/util.js", "src/lib/util.js"},
		{"src/payments/charge.ts", "src/payments/charge.ts"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizePath(tt.in); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseStack(t *testing.T) {
	raw := `PaymentError: declined
    at charge (https://app.example.com/assets/index-abc.js:1:2048)
    at src/payments/charge.ts:10:4
    handleClick@https://app.example.com/assets/vendor.js:3:77
    not a frame`

	frames := ParseStack(raw)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d: %+v", len(frames), frames)
	}

	if frames[0].Function != "charge" || frames[0].File != "https://app.example.com/assets/index-abc.js" || frames[0].Line != 1 || frames[0].Column != 2048 {
		t.Errorf("frame 0: %+v", frames[0])
	}
	if frames[1].File != "src/payments/charge.ts" || frames[1].Line != 10 || frames[1].Column != 4 {
		t.Errorf("frame 1: %+v", frames[1])
	}
	if frames[2].Function != "handleClick" || frames[2].Line != 3 || frames[2].Column != 77 {
		t.Errorf("frame 2: %+v", frames[2])
	}
}

func snapshot() *domain.ReleaseSnapshot {
	return &domain.ReleaseSnapshot{
		Components: []domain.Component{
			{Key: "web", Type: "app", PathGlobs: []string{"src/**"}},
			{Key: "payments", Type: "module", PathGlobs: []string{"src/payments/*.ts"}},
			{Key: "web-shadow", Type: "app", PathGlobs: []string{"src/**"}},
		},
	}
}

func TestResolve_MostSpecificGlobWins(t *testing.T) {
	r := NewResolver(nil)
	frames := []domain.StackFrame{{File: "src/payments/charge.ts", Line: 10}}

	res := r.Resolve(frames, snapshot(), "")
	if res.Method != domain.ResolutionStackPathGlob {
		t.Fatalf("method: got %q", res.Method)
	}
	if res.Component.Key != "payments" {
		t.Errorf("expected payments component, got %q", res.Component.Key)
	}
}

func TestResolve_TieGoesToFirstMatch(t *testing.T) {
	r := NewResolver(nil)
	frames := []domain.StackFrame{{File: "src/ui/button.tsx"}}

	for i := 0; i < 5; i++ {
		res := r.Resolve(frames, snapshot(), "")
		if res.Component == nil || res.Component.Key != "web" {
			t.Fatalf("run %d: expected first matching component web, got %+v", i, res.Component)
		}
	}
}

func TestResolve_ExplicitKey(t *testing.T) {
	r := NewResolver(nil)
	frames := []domain.StackFrame{{File: "src/payments/charge.ts"}}

	res := r.Resolve(frames, snapshot(), "WEB-SHADOW")
	if res.Method != domain.ResolutionExplicitContext || res.Component.Key != "web-shadow" {
		t.Errorf("expected explicit web-shadow, got %q / %+v", res.Method, res.Component)
	}

	res = r.Resolve(frames, snapshot(), "unknown")
	if res.Method != domain.ResolutionStackPathGlob {
		t.Errorf("unknown explicit key should fall through to globs, got %q", res.Method)
	}
}

func TestResolve_Unresolved(t *testing.T) {
	r := NewResolver(nil)

	res := r.Resolve([]domain.StackFrame{{File: "lib/other.js"}}, snapshot(), "")
	if res.Method != domain.ResolutionUnresolved || res.Component != nil {
		t.Errorf("expected unresolved, got %+v", res)
	}

	res = r.Resolve([]domain.StackFrame{{File: "src/a.ts"}}, nil, "")
	if res.Method != domain.ResolutionUnresolved {
		t.Errorf("nil snapshot should be unresolved, got %q", res.Method)
	}
}

type countingSource struct {
	calls int
	snap  *domain.ReleaseSnapshot
	err   error
}

func (s *countingSource) LoadSnapshot(_ context.Context, _ domain.ReleaseKey) (*domain.ReleaseSnapshot, error) {
	s.calls++
	return s.snap, s.err
}

func TestResolver_SnapshotCachedPerBatch(t *testing.T) {
	src := &countingSource{}
	r := NewResolver(src)
	ctx := context.Background()
	key := domain.ReleaseKey{TenantID: "t1", AppID: "web", Env: "prod", VersionLabel: "1.2.3"}

	for i := 0; i < 3; i++ {
		snap, err := r.Snapshot(ctx, key)
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if snap != nil {
			t.Errorf("expected nil snapshot")
		}
	}
	if src.calls != 1 {
		t.Errorf("expected one load for repeated key, got %d", src.calls)
	}

	other := key
	other.VersionLabel = "1.2.4"
	r.Snapshot(ctx, other)
	if src.calls != 2 {
		t.Errorf("expected a second load for a new key, got %d", src.calls)
	}
}

func TestResolver_SnapshotErrorNotCached(t *testing.T) {
	src := &countingSource{err: errors.New("boom")}
	r := NewResolver(src)
	ctx := context.Background()
	key := domain.ReleaseKey{TenantID: "t1"}

	if _, err := r.Snapshot(ctx, key); err == nil {
		t.Fatal("expected error")
	}
	src.err = nil
	if _, err := r.Snapshot(ctx, key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.calls != 2 {
		t.Errorf("failed loads should be retried, got %d calls", src.calls)
	}
}
