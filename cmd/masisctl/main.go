// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command masisctl is the operator CLI for a running MASIS server.
//
// # Usage
//
//	masisctl health
//	masisctl workspace create --name engineering-docs
//	masisctl workspace list
//	masisctl document upload --workspace <id> report.md
//	masisctl ask --workspace <id> "What was Q3 revenue?"
//
// # Configuration
//
// Reads an optional masisctl.yaml from the working directory:
//
//	server_url: http://localhost:12310
//	api_token: <token>
//
// The MASIS_SERVER_URL and MASIS_API_TOKEN environment variables override
// the file.
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Adnan-Haque/MASIS/pkg/logging"
)

// Config is the CLI configuration loaded from masisctl.yaml.
type Config struct {
	ServerURL string `yaml:"server_url"`
	APIToken  string `yaml:"api_token"`
}

var config Config

var logger = logging.Default()

var rootCmd = &cobra.Command{
	Use:   "masisctl",
	Short: "Operate a MASIS synthesis server",
	Long: `masisctl talks to a running MASIS server: manage workspaces and
documents, submit synthesis questions, and check deployment health.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		loadConfig()
	}
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(documentCmd)
	rootCmd.AddCommand(healthCmd)
}

// loadConfig reads masisctl.yaml when present and applies environment
// overrides. A missing file is fine; the defaults point at localhost.
func loadConfig() {
	config = Config{ServerURL: "http://localhost:12310"}

	if yamlFile, err := os.ReadFile("masisctl.yaml"); err == nil {
		if err := yaml.Unmarshal(yamlFile, &config); err != nil {
			log.Fatalf("Error parsing masisctl.yaml: %v", err)
		}
		logger.Debug("configuration loaded", "path", "masisctl.yaml")
	}

	if url := os.Getenv("MASIS_SERVER_URL"); url != "" {
		config.ServerURL = url
	}
	if token := os.Getenv("MASIS_API_TOKEN"); token != "" {
		config.APIToken = token
	}
}
