package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"decklens/internal/services"
)

const keyDomain = "decklens/job/v2"

// Request carries every ingredient that determines a job's output.
type Request struct {
	Content         []byte
	PipelineVersion string
	// Config is the normalized configuration that affects results. Any
	// JSON-encodable value works; map keys are sorted during encoding.
	Config   any
	Snapshot string
	// Params holds per-submission inputs besides Content that change the
	// result, such as extra renditions or size hints. It is encoded like
	// Config.
	Params any
}

// ContentDigest returns the hex SHA-256 of the request content.
func (r Request) ContentDigest() string {
	sum := sha256.Sum256(r.Content)
	return hex.EncodeToString(sum[:])
}

type keyMaterial struct {
	ContentSHA256   string          `json:"content_sha256"`
	PipelineVersion string          `json:"pipeline_version"`
	Config          json.RawMessage `json:"config"`
	Snapshot        string          `json:"snapshot"`
	Params          json.RawMessage `json:"params"`
}

// DeriveKey returns the deterministic job key for req.
func DeriveKey(req Request) (string, error) {
	cfg, err := canonicalJSON(req.Config)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "idempotency", "derive key", "encode config", err)
	}
	params, err := canonicalJSON(req.Params)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "idempotency", "derive key", "encode params", err)
	}
	material, err := json.Marshal(keyMaterial{
		ContentSHA256:   req.ContentDigest(),
		PipelineVersion: req.PipelineVersion,
		Config:          cfg,
		Snapshot:        req.Snapshot,
		Params:          params,
	})
	if err != nil {
		return "", fmt.Errorf("encode key material: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(keyDomain))
	h.Write([]byte{0})
	h.Write(material)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalJSON round-trips v through a generic value so struct field order
// and map iteration order cannot change the encoding.
func canonicalJSON(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
