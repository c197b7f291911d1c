// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the scholar service configuration from an optional
// YAML file, applies environment overrides, and validates the result.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration for the scholar service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Weaviate  WeaviateConfig  `yaml:"weaviate"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Expansion ExpansionConfig `yaml:"expansion"`
	Agent     AgentConfig     `yaml:"agent"`
	Citations CitationsConfig `yaml:"citations"`
	Storage   StorageConfig   `yaml:"storage"`
	Data      DataConfig      `yaml:"data"`
}

type ServerConfig struct {
	Port string `yaml:"port" validate:"required"`
}

type WeaviateConfig struct {
	URL string `yaml:"url"`
}

// ChunkingConfig controls the hierarchical chunk tiers. Overlap is a
// fraction of the tier size (0.1 means a 2048-char coarse chunk overlaps
// its neighbor by ~205 chars).
type ChunkingConfig struct {
	CoarseSize int     `yaml:"coarse_size" validate:"gt=0"`
	MediumSize int     `yaml:"medium_size" validate:"gt=0"`
	FineSize   int     `yaml:"fine_size" validate:"gt=0"`
	Overlap    float64 `yaml:"overlap" validate:"gte=0,lt=1"`
}

type RetrievalConfig struct {
	DefaultK         int    `yaml:"default_k" validate:"gt=0"`
	RerankEnabled    bool   `yaml:"rerank_enabled"`
	RerankCandidateK int    `yaml:"rerank_candidate_k" validate:"gt=0"`
	RerankerURL      string `yaml:"reranker_url"`
	RerankModel      string `yaml:"rerank_model"`
}

type ExpansionConfig struct {
	Enabled       bool `yaml:"enabled"`
	MaxExpansions int  `yaml:"max_expansions" validate:"gt=0"`
}

// AgentConfig bounds the synthesis state machine. Both retry budgets and
// both score thresholds are configuration, never hard-coded.
type AgentConfig struct {
	MaxRetrievalRetries  int     `yaml:"max_retrieval_retries" validate:"gte=0"`
	MaxGenerationRetries int     `yaml:"max_generation_retries" validate:"gte=0"`
	SufficiencyScore     float64 `yaml:"sufficiency_score" validate:"gte=0,lte=1"`
	CitationAccuracyMin  float64 `yaml:"citation_accuracy_min" validate:"gte=0,lte=1"`
	SimpleMaxLen         int     `yaml:"simple_max_len" validate:"gt=0"`
	MediumMaxLen         int     `yaml:"medium_max_len" validate:"gt=0"`
	ComplexMinTopics     int     `yaml:"complex_min_topics" validate:"gt=0"`
}

type CitationsConfig struct {
	FuzzyFloor float64 `yaml:"fuzzy_floor" validate:"gte=0,lte=1"`
}

// StorageConfig selects the object storage backend. When Bucket is empty
// the service falls back to a local directory.
type StorageConfig struct {
	Bucket        string `yaml:"bucket"`
	CredentialsSA string `yaml:"credentials_sa"`
	LocalDir      string `yaml:"local_dir"`
	SignedURLMins int    `yaml:"signed_url_mins" validate:"gt=0"`
}

// DataConfig holds paths for the embedded durable stores.
type DataConfig struct {
	TasksPath     string `yaml:"tasks_path" validate:"required"`
	CitationsPath string `yaml:"citations_path" validate:"required"`
}

// Default returns the baseline configuration before file or env overrides.
func Default() Config {
	return Config{
		Server:   ServerConfig{Port: "12310"},
		Weaviate: WeaviateConfig{URL: os.Getenv("WEAVIATE_SERVICE_URL")},
		Chunking: ChunkingConfig{
			CoarseSize: 2048,
			MediumSize: 1024,
			FineSize:   512,
			Overlap:    0.1,
		},
		Retrieval: RetrievalConfig{
			DefaultK:         5,
			RerankEnabled:    false,
			RerankCandidateK: 20,
			RerankModel:      "BAAI/bge-reranker-base",
		},
		Expansion: ExpansionConfig{
			Enabled:       false,
			MaxExpansions: 4,
		},
		Agent: AgentConfig{
			MaxRetrievalRetries:  1,
			MaxGenerationRetries: 1,
			SufficiencyScore:     0.6,
			CitationAccuracyMin:  0.7,
			SimpleMaxLen:         120,
			MediumMaxLen:         240,
			ComplexMinTopics:     3,
		},
		Citations: CitationsConfig{FuzzyFloor: 0.82},
		Storage: StorageConfig{
			LocalDir:      "./data/objects",
			SignedURLMins: 60,
		},
		Data: DataConfig{
			TasksPath:     "./data/tasks",
			CitationsPath: "./data/citations",
		},
	}
}

// Load reads the config file at path (missing file is not an error), then
// applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
			slog.Info("No config file found, using defaults", "path", path)
		default:
			return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SCHOLAR_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("WEAVIATE_SERVICE_URL"); v != "" {
		c.Weaviate.URL = v
	}
	if v := os.Getenv("RERANKER_SERVICE_URL"); v != "" {
		c.Retrieval.RerankerURL = v
		c.Retrieval.RerankEnabled = true
	}
	if v := os.Getenv("SCHOLAR_STORAGE_BUCKET"); v != "" {
		c.Storage.Bucket = v
	}
	c.Chunking.CoarseSize = getEnvInt("CHUNK_COARSE_SIZE", c.Chunking.CoarseSize)
	c.Chunking.MediumSize = getEnvInt("CHUNK_MEDIUM_SIZE", c.Chunking.MediumSize)
	c.Chunking.FineSize = getEnvInt("CHUNK_FINE_SIZE", c.Chunking.FineSize)
	c.Chunking.Overlap = getEnvFloat("CHUNK_OVERLAP", c.Chunking.Overlap)
	c.Retrieval.DefaultK = getEnvInt("RETRIEVAL_DEFAULT_K", c.Retrieval.DefaultK)
	c.Retrieval.RerankEnabled = getEnvBool("RERANK_ENABLED", c.Retrieval.RerankEnabled)
	c.Retrieval.RerankCandidateK = getEnvInt("RERANK_CANDIDATE_K", c.Retrieval.RerankCandidateK)
	c.Expansion.Enabled = getEnvBool("EXPANSION_ENABLED", c.Expansion.Enabled)
	c.Expansion.MaxExpansions = getEnvInt("EXPANSION_MAX", c.Expansion.MaxExpansions)
	c.Agent.MaxRetrievalRetries = getEnvInt("AGENT_MAX_RETRIEVAL_RETRIES", c.Agent.MaxRetrievalRetries)
	c.Agent.MaxGenerationRetries = getEnvInt("AGENT_MAX_GENERATION_RETRIES", c.Agent.MaxGenerationRetries)
	c.Agent.SufficiencyScore = getEnvFloat("AGENT_SUFFICIENCY_SCORE", c.Agent.SufficiencyScore)
	c.Agent.CitationAccuracyMin = getEnvFloat("AGENT_CITATION_ACCURACY_MIN", c.Agent.CitationAccuracyMin)
	c.Citations.FuzzyFloor = getEnvFloat("CITATION_FUZZY_FLOOR", c.Citations.FuzzyFloor)
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
		slog.Warn("Ignoring non-integer env override", "key", key, "value", v)
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
		slog.Warn("Ignoring non-float env override", "key", key, "value", v)
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
		slog.Warn("Ignoring non-boolean env override", "key", key, "value", v)
	}
	return def
}
