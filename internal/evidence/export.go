package evidence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"watermarkd/internal/payload"
	"watermarkd/internal/quality"
)

// Export is the stable persisted evidence JSON, version "1.0". Parsers
// reject unknown fields; there is no extensions escape hatch.
type Export struct {
	ExportedAt       string            `json:"exportedAt"`
	Version          string            `json:"version"`
	WorkID           string            `json:"workId"`
	MediaType        string            `json:"mediaType"`
	OriginalFileName string            `json:"originalFileName"`
	OriginalFileSize int64             `json:"originalFileSize"`
	AspectRatio      string            `json:"aspectRatio"`
	Owner            Owner             `json:"owner"`
	Proof            Proof             `json:"cryptographicProof"`
	PerceptualHashes PerceptualHashes  `json:"perceptualHashes"`
	Anchor           *Anchor           `json:"anchor,omitempty"`
	EmbeddingParams  EmbeddingParams   `json:"embeddingParams"`
	QualityMetrics   *quality.Metrics  `json:"qualityMetrics,omitempty"`
	Metadata         map[string]string `json:"metadata"`
	Timestamps       Timestamps        `json:"timestamps"`
	DetectionHistory []DetectionEvent  `json:"detectionHistory"`
}

// Owner mirrors the user profile read by the canonicalizer.
type Owner struct {
	LegalName     string `json:"legalName"`
	DisplayName   string `json:"displayName"`
	CopyrightYear int    `json:"copyrightYear"`
	PrimarySource string `json:"primarySource"`
}

// Proof carries the cryptographic bindings.
type Proof struct {
	OriginalHash       string `json:"originalHash"`
	PayloadHash        string `json:"payloadHash"`
	WatermarkPayload   string `json:"watermarkPayload"`
	EvidenceSignature  string `json:"evidenceSignature"`
	SignatureAlgorithm string `json:"signatureAlgorithm"`
	SignaturePublicKey string `json:"signaturePublicKey"`
}

// PerceptualHashes renders the fingerprint trio.
type PerceptualHashes struct {
	PHash string `json:"pHash"`
	AHash string `json:"aHash"`
	DHash string `json:"dHash"`
}

// Anchor is an optional external timestamp anchor receipt.
type Anchor struct {
	TxID            string `json:"txId"`
	Network         string `json:"network"`
	BlockNumber     int64  `json:"blockNumber"`
	Timestamp       string `json:"timestamp"`
	VerificationURL string `json:"verificationUrl"`
}

// Timestamps tracks the artifact lifecycle.
type Timestamps struct {
	Created   string `json:"created"`
	Uploaded  string `json:"uploaded,omitempty"`
	Processed string `json:"processed"`
}

// DetectionEvent is one recorded lookup hit against this work.
type DetectionEvent struct {
	ID         string  `json:"id"`
	DetectedAt string  `json:"detectedAt"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	Grade      string  `json:"grade"`
}

// BuildExport assembles the export document from a record and its
// surrounding context.
func BuildExport(rec *Record, owner Owner, mediaType, fileName string, fileSize int64, watermarkPayload string, history []DetectionEvent, now time.Time) (*Export, error) {
	canonical, err := payload.Parse(rec.CanonicalPayload)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", rec.WorkID, err)
	}

	created := time.UnixMilli(rec.TimestampMillis).UTC().Format(time.RFC3339)
	if history == nil {
		history = []DetectionEvent{}
	}

	return &Export{
		ExportedAt:       now.UTC().Format(time.RFC3339),
		Version:          ExportVersion,
		WorkID:           rec.WorkID,
		MediaType:        mediaType,
		OriginalFileName: fileName,
		OriginalFileSize: fileSize,
		AspectRatio:      canonical.Get(payload.KeyAspectRatio),
		Owner:            owner,
		Proof: Proof{
			OriginalHash:       rec.OriginalHash,
			PayloadHash:        rec.PayloadHash,
			WatermarkPayload:   watermarkPayload,
			EvidenceSignature:  rec.Signature,
			SignatureAlgorithm: rec.SignatureAlgorithm,
			SignaturePublicKey: rec.SignaturePublicKey,
		},
		PerceptualHashes: PerceptualHashes{
			PHash: rec.Fingerprint.PHash.String(),
			AHash: rec.Fingerprint.AHash.String(),
			DHash: rec.Fingerprint.DHash.String(),
		},
		EmbeddingParams: rec.EmbeddingParams,
		QualityMetrics:  rec.QualityMetrics,
		Metadata:        map[string]string{},
		Timestamps: Timestamps{
			Created:   created,
			Processed: created,
		},
		DetectionHistory: history,
	}, nil
}

// Marshal renders the export as indented JSON after schema validation.
func (e *Export) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := ValidateExport(data); err != nil {
		return nil, err
	}
	return data, nil
}

// ParseExport validates and decodes a persisted export document.
func ParseExport(data []byte) (*Export, error) {
	if err := ValidateExport(data); err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var e Export
	if err := dec.Decode(&e); err != nil {
		return nil, fmt.Errorf("parse evidence export: %w", err)
	}
	return &e, nil
}

// ValidateExport checks a document against the embedded schema.
func ValidateExport(data []byte) error {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("evidence export is not JSON: %w", err)
	}
	if err := exportSchema.Validate(instance); err != nil {
		return fmt.Errorf("evidence export schema: %w", err)
	}
	return nil
}

var exportSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("evidence-export-v1.schema.json", strings.NewReader(exportSchemaJSON)); err != nil {
		panic(err)
	}
	schema, err := compiler.Compile("evidence-export-v1.schema.json")
	if err != nil {
		panic(err)
	}
	return schema
}

const exportSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "evidence-export-v1.schema.json",
  "type": "object",
  "additionalProperties": false,
  "required": [
    "exportedAt", "version", "workId", "mediaType", "originalFileName",
    "originalFileSize", "aspectRatio", "owner", "cryptographicProof",
    "perceptualHashes", "embeddingParams", "metadata", "timestamps",
    "detectionHistory"
  ],
  "properties": {
    "exportedAt": {"type": "string", "format": "date-time"},
    "version": {"const": "1.0"},
    "workId": {"type": "string", "minLength": 24, "maxLength": 32},
    "mediaType": {"type": "string"},
    "originalFileName": {"type": "string"},
    "originalFileSize": {"type": "integer", "minimum": 0},
    "aspectRatio": {"type": "string"},
    "owner": {
      "type": "object",
      "additionalProperties": false,
      "required": ["legalName", "displayName", "copyrightYear", "primarySource"],
      "properties": {
        "legalName": {"type": "string"},
        "displayName": {"type": "string"},
        "copyrightYear": {"type": "integer"},
        "primarySource": {"type": "string"}
      }
    },
    "cryptographicProof": {
      "type": "object",
      "additionalProperties": false,
      "required": ["originalHash", "payloadHash", "watermarkPayload"],
      "properties": {
        "originalHash": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
        "payloadHash": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
        "watermarkPayload": {"type": "string"},
        "evidenceSignature": {"type": "string"},
        "signatureAlgorithm": {"type": "string"},
        "signaturePublicKey": {"type": "string"}
      }
    },
    "perceptualHashes": {
      "type": "object",
      "additionalProperties": false,
      "required": ["pHash", "aHash", "dHash"],
      "properties": {
        "pHash": {"type": "string", "pattern": "^[0-9a-f]{16}$"},
        "aHash": {"type": "string", "pattern": "^[0-9a-f]{16}$"},
        "dHash": {"type": "string", "pattern": "^[0-9a-f]{16}$"}
      }
    },
    "anchor": {
      "type": "object",
      "additionalProperties": false,
      "required": ["txId", "network"],
      "properties": {
        "txId": {"type": "string"},
        "network": {"type": "string"},
        "blockNumber": {"type": "integer"},
        "timestamp": {"type": "string"},
        "verificationUrl": {"type": "string"}
      }
    },
    "embeddingParams": {
      "type": "object",
      "additionalProperties": false,
      "required": ["strength", "eccBytes", "blockSize", "coefficientSeed"],
      "properties": {
        "strength": {"type": "number", "minimum": 0.05, "maximum": 0.2},
        "eccBytes": {"enum": [8, 12, 16]},
        "blockSize": {"type": "integer", "minimum": 4},
        "coefficientSeed": {"type": "string"}
      }
    },
    "qualityMetrics": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "psnr": {"type": "number"},
        "ssim": {"type": "number", "minimum": -1, "maximum": 1},
        "mse": {"type": "number", "minimum": 0},
        "maxDiff": {"type": "number", "minimum": 0}
      }
    },
    "metadata": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    },
    "timestamps": {
      "type": "object",
      "additionalProperties": false,
      "required": ["created", "processed"],
      "properties": {
        "created": {"type": "string"},
        "uploaded": {"type": "string"},
        "processed": {"type": "string"}
      }
    },
    "detectionHistory": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["id", "detectedAt", "source", "confidence", "grade"],
        "properties": {
          "id": {"type": "string"},
          "detectedAt": {"type": "string"},
          "source": {"type": "string"},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1},
          "grade": {"type": "string"}
        }
      }
    }
  }
}`
