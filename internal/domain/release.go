package domain

import "time"

// Component is one deployable part of a release, owning the source files
// matched by its path globs.
type Component struct {
	Key        string   `json:"component_key"`
	Type       string   `json:"component_type"`
	Revision   int      `json:"revision_no"`
	RevisionID string   `json:"revision_id"`
	PathGlobs  []string `json:"path_globs"`
}

// ReleaseKey addresses a release snapshot.
type ReleaseKey struct {
	TenantID     string
	AppID        string
	Env          string
	VersionLabel string
}

// ReleaseSnapshot describes which components make up a deployed app version.
type ReleaseSnapshot struct {
	Key              ReleaseKey
	VersionReleaseID string
	SourceCommit     string
	Components       []Component
}

// Release is the release-management record used for symbolication.
type Release struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	AppID        string         `json:"app_id"`
	VersionLabel string         `json:"version_label"`
	BuildID      string         `json:"build_id,omitempty"`
	Env          string         `json:"env,omitempty"`
	Semver       string         `json:"semver,omitempty"`
	SourceCommit string         `json:"source_commit,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ManifestPointer returns the blob location of the release's source-map
// manifest. Both values are empty when the release carries none.
func (r *Release) ManifestPointer() (bucket, path string) {
	if r == nil || r.Metadata == nil {
		return "", ""
	}
	bucket, _ = r.Metadata["sourcemap_bucket"].(string)
	path, _ = r.Metadata["sourcemap_manifest_path"].(string)
	return bucket, path
}
