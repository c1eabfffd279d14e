// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"

	"github.com/kadirpekel/aguibridge/pkg/config"
	"github.com/kadirpekel/aguibridge/pkg/logger"
)

const (
	logLevelEnvVar  = "LOG_LEVEL"
	logFileEnvVar   = "LOG_FILE"
	logFormatEnvVar = "LOG_FORMAT"

	defaultLogLevel  = "info"
	defaultLogFormat = logger.FormatText
)

// initLogger wires the process logger from CLI flags and environment
// variables. Priority: CLI flags > env vars > defaults.
func initLogger(cliLevel, cliFile, cliFormat string) (func(), error) {
	level := cliLevel
	if level == "" {
		level = os.Getenv(logLevelEnvVar)
	}
	if level == "" {
		level = defaultLogLevel
	}

	file := cliFile
	if file == "" {
		file = os.Getenv(logFileEnvVar)
	}

	format := cliFormat
	if format == "" {
		format = os.Getenv(logFormatEnvVar)
	}
	if format == "" {
		format = defaultLogFormat
	}

	return setupLogger(level, file, format)
}

// initLoggerFromConfig reapplies logger settings from a loaded config file.
// Called only when neither CLI flags nor environment variables overrode the
// defaults.
func initLoggerFromConfig(cfg *config.LoggingConfig) (func(), error) {
	level := cfg.Level
	if level == "" {
		level = defaultLogLevel
	}
	format := cfg.Format
	if format == "" {
		format = defaultLogFormat
	}
	return setupLogger(level, cfg.File, format)
}

// loggerOverridden reports whether logging was configured on the command
// line or environment; those take priority over the config file.
func loggerOverridden(cliLevel, cliFile, cliFormat string) bool {
	if cliLevel != defaultLogLevel || cliFile != "" || cliFormat != defaultLogFormat {
		return true
	}
	return os.Getenv(logLevelEnvVar) != "" ||
		os.Getenv(logFileEnvVar) != "" ||
		os.Getenv(logFormatEnvVar) != ""
}

func setupLogger(levelStr, file, format string) (func(), error) {
	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	output := os.Stderr
	var cleanup func()
	if file != "" {
		f, closeFn, err := logger.OpenLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
		cleanup = closeFn
	}

	logger.Init(level, output, format)
	return cleanup, nil
}
