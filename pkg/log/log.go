/*
 * Copyright © 2024 Kaleido, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
 * an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
 * specific language governing permissions and limitations under the License.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package log provides the context-scoped logger used across the relay:
// every component retrieves its *logrus.Entry via L(ctx) rather than
// holding a logger field, so log fields attached higher up (role,
// signer, tick number) flow down automatically.
package log

import (
	"context"
	"io"
	"os"

	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey struct{}

var root = logrus.NewEntry(logrus.StandardLogger())

// Config controls the root logger's level and optional file rotation.
type Config struct {
	Level      string `yaml:"level"`
	Filename   string `yaml:"filename"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// Init configures the standard logger's formatter, level and output per cfg.
// Safe to call once at process startup, before any L(ctx) call.
func Init(cfg *Config) {
	logrus.SetFormatter(&prefixed.TextFormatter{
		FullTimestamp:   true,
		ForceFormatting: true,
	})
	if cfg == nil {
		root = logrus.NewEntry(logrus.StandardLogger())
		return
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	var out io.Writer = os.Stderr
	if cfg.Filename != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		})
	}
	logrus.SetOutput(out)
	root = logrus.NewEntry(logrus.StandardLogger())
}

// WithLogField returns a context carrying a logger with an extra field set,
// for every subsequent L(ctx) call against that context (and its children).
func WithLogField(ctx context.Context, key, value string) context.Context {
	return WithLogFields(ctx, logrus.Fields{key: value})
}

// WithLogFields is the multi-field form of WithLogField.
func WithLogFields(ctx context.Context, fields logrus.Fields) context.Context {
	entry := L(ctx).WithFields(fields)
	return context.WithValue(ctx, ctxKey{}, entry)
}

// L returns the logger scoped to ctx, falling back to the root logger
// when ctx carries none (e.g. in tests that build a bare context.Background()).
func L(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return root
	}
	if entry, ok := ctx.Value(ctxKey{}).(*logrus.Entry); ok {
		return entry
	}
	return root
}
