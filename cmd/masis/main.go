// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command masis starts the MASIS synthesis HTTP server.
//
// It reads configuration from environment variables and blocks serving
// requests until the process is stopped.
//
// # Environment Variables
//
//   - MASIS_PORT: HTTP server port (default: 12310)
//   - LLM_BACKEND_TYPE: LLM provider - local, openai, ollama, claude (default: local)
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL (required)
//   - EMBEDDING_SERVICE_URL: embedding service URL (required)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (optional)
//   - MASIS_API_TOKEN: bearer token for /v1 (optional; empty disables auth)
//   - MASIS_LOG_LEVEL: debug, info, warn, error (default: info)
//   - MASIS_LOG_FILE: optional file receiving a copy of every log record
//   - MASIS_DATA_DIR, MASIS_BLOB_DIR: storage directories
//   - MASIS_LLM_CALLS_PER_MINUTE: shared LLM admission limit (default: 60)
//   - MASIS_QUALITY_THRESHOLD: routing confidence threshold (default: 0.65)
//   - MASIS_DROP_FOLDER, MASIS_DROP_WORKSPACE_ID: drop-folder ingestion
//   - INFLUXDB_URL, INFLUXDB_TOKEN, INFLUXDB_ORG, INFLUXDB_BUCKET: quality sink
//   - MASIS_GCS_BUCKET, MASIS_GCS_KEY_PATH: upload archive
//   - MASIS_DRAFT_MODEL, MASIS_JUDGE_MODEL: tier overrides
//
// # Usage
//
//	go build -o masis ./cmd/masis
//	./masis
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/Adnan-Haque/MASIS/pkg/logging"
	"github.com/Adnan-Haque/MASIS/services/llm"
	"github.com/Adnan-Haque/MASIS/services/masis"
	"github.com/Adnan-Haque/MASIS/services/masis/pipeline"
)

func main() {
	logger := logging.New(logging.Config{
		Service:  "masis",
		Level:    logging.ParseLevel(os.Getenv("MASIS_LOG_LEVEL")),
		FilePath: os.Getenv("MASIS_LOG_FILE"),
	})
	slog.SetDefault(logger)

	backend := getEnvString("LLM_BACKEND_TYPE", "local")

	cfg := masis.Config{
		Port:              getEnvInt("MASIS_PORT", 12310),
		GinMode:           os.Getenv("GIN_MODE"),
		LLMBackend:        backend,
		Tiers:             tiersFromEnv(backend),
		WeaviateURL:       os.Getenv("WEAVIATE_SERVICE_URL"),
		EmbeddingURL:      os.Getenv("EMBEDDING_SERVICE_URL"),
		OTelEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Debug:             os.Getenv("MASIS_DEBUG") == "true",
		AuthToken:         os.Getenv("MASIS_API_TOKEN"),
		DataDir:           getEnvString("MASIS_DATA_DIR", "./data/meta"),
		BlobDir:           getEnvString("MASIS_BLOB_DIR", "./data/blobs"),
		LLMCallsPerMinute: getEnvInt("MASIS_LLM_CALLS_PER_MINUTE", 60),
		DropFolder:        os.Getenv("MASIS_DROP_FOLDER"),
		DropWorkspaceID:   os.Getenv("MASIS_DROP_WORKSPACE_ID"),
		InfluxURL:         os.Getenv("INFLUXDB_URL"),
		InfluxToken:       os.Getenv("INFLUXDB_TOKEN"),
		InfluxOrg:         os.Getenv("INFLUXDB_ORG"),
		InfluxBucket:      os.Getenv("INFLUXDB_BUCKET"),
		GCSBucket:         os.Getenv("MASIS_GCS_BUCKET"),
		GCSKeyPath:        os.Getenv("MASIS_GCS_KEY_PATH"),
	}

	cfg.Pipeline = pipeline.DefaultConfig()
	cfg.Pipeline.QualityThreshold = getEnvFloat("MASIS_QUALITY_THRESHOLD", pipeline.DefaultQualityThreshold)

	slog.Info("Starting MASIS",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"weaviate_url", cfg.WeaviateURL,
		"embedding_url", cfg.EmbeddingURL,
	)

	svc, err := masis.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create MASIS service: %v", err)
	}

	if err := svc.Run(); err != nil {
		log.Fatalf("MASIS server error: %v", err)
	}
}

// tiersFromEnv applies per-role model overrides to the backend defaults.
// Tier ranks stay at the defaults; only the model names are overridable,
// so the judge-outranks-drafter check cannot be bypassed by env var.
func tiersFromEnv(backend string) llm.TierSet {
	tiers := llm.DefaultTierSet(backend)
	if m := os.Getenv("MASIS_DRAFT_MODEL"); m != "" {
		tiers.Draft.Model = m
		tiers.Compress.Model = m
	}
	if m := os.Getenv("MASIS_JUDGE_MODEL"); m != "" {
		tiers.Audit.Model = m
		tiers.Evaluate.Model = m
	}
	return tiers
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns the environment variable as float64 or a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
