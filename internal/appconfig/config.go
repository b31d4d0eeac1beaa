/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package appconfig loads and validates the server's typed configuration
// record, following the mapstructure/json/yaml/toml tag convention and the
// validator.v10-based Validate method the certificates package uses.
package appconfig

import (
	"fmt"

	libval "github.com/go-playground/validator/v10"

	"github.com/nabbar/fenrir/internal/duration"
)

// ListenConfig describes a single bind address and its protocol posture.
type ListenConfig struct {
	Address      string `mapstructure:"address" json:"address" yaml:"address" toml:"address" validate:"required"`
	TLS          bool   `mapstructure:"tls" json:"tls" yaml:"tls" toml:"tls"`
	H2C          bool   `mapstructure:"h2c" json:"h2c" yaml:"h2c" toml:"h2c"`
	Workers      int    `mapstructure:"workers" json:"workers" yaml:"workers" toml:"workers" validate:"gte=0"`
	Backlog      int    `mapstructure:"backlog" json:"backlog" yaml:"backlog" toml:"backlog" validate:"gte=0"`
	ReusePort    bool   `mapstructure:"reusePort" json:"reusePort" yaml:"reusePort" toml:"reusePort"`
}

// TLSConfig names certificate material for a listener with TLS enabled.
type TLSConfig struct {
	CertFile   string `mapstructure:"certFile" json:"certFile" yaml:"certFile" toml:"certFile"`
	KeyFile    string `mapstructure:"keyFile" json:"keyFile" yaml:"keyFile" toml:"keyFile"`
	MinVersion string `mapstructure:"minVersion" json:"minVersion" yaml:"minVersion" toml:"minVersion"`
}

// PoolConfig tunes the worker pool that executes requests against the
// embedded script interpreter.
type PoolConfig struct {
	Workers       int    `mapstructure:"workers" json:"workers" yaml:"workers" toml:"workers" validate:"gt=0"`
	QueueCapacity int    `mapstructure:"queueCapacity" json:"queueCapacity" yaml:"queueCapacity" toml:"queueCapacity" validate:"gt=0"`
	RequestTime   string `mapstructure:"requestTimeout" json:"requestTimeout" yaml:"requestTimeout" toml:"requestTimeout"`
}

// RateLimitConfig configures the fixed-window per-IP limiter.
type RateLimitConfig struct {
	Enabled  bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled" toml:"enabled"`
	Requests int    `mapstructure:"requests" json:"requests" yaml:"requests" toml:"requests" validate:"gte=0"`
	Window   string `mapstructure:"window" json:"window" yaml:"window" toml:"window"`
}

// ExecutorConfig chooses and configures the script interpreter binding.
type ExecutorConfig struct {
	Kind          string `mapstructure:"kind" json:"kind" yaml:"kind" toml:"kind" validate:"oneof=stub eval ffi"`
	ScriptRoot    string `mapstructure:"scriptRoot" json:"scriptRoot" yaml:"scriptRoot" toml:"scriptRoot"`
	IndexFile     string `mapstructure:"indexFile" json:"indexFile" yaml:"indexFile" toml:"indexFile"`
	ErrorPagesDir string `mapstructure:"errorPagesDir" json:"errorPagesDir" yaml:"errorPagesDir" toml:"errorPagesDir"`
	Heartbeat     string `mapstructure:"heartbeat" json:"heartbeat" yaml:"heartbeat" toml:"heartbeat"`
	UploadTempDir string `mapstructure:"uploadTempDir" json:"uploadTempDir" yaml:"uploadTempDir" toml:"uploadTempDir"`
}

// TimeoutsConfig centralizes the duration-string knobs spread across the
// connection, pool and shutdown components.
type TimeoutsConfig struct {
	IdlePeek       string `mapstructure:"idlePeek" json:"idlePeek" yaml:"idlePeek" toml:"idlePeek"`
	HeaderRead     string `mapstructure:"headerRead" json:"headerRead" yaml:"headerRead" toml:"headerRead"`
	Handshake      string `mapstructure:"handshake" json:"handshake" yaml:"handshake" toml:"handshake"`
	ShutdownDrain  string `mapstructure:"shutdownDrain" json:"shutdownDrain" yaml:"shutdownDrain" toml:"shutdownDrain"`
}

// LogConfig selects the minimum level applog.New builds with.
type LogConfig struct {
	Level string `mapstructure:"level" json:"level" yaml:"level" toml:"level" validate:"oneof=panic fatal error warn info debug"`
}

// FileCacheConfig bounds the LRU cache guarding static-file reads.
type FileCacheConfig struct {
	Enabled  bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled" toml:"enabled"`
	Capacity int    `mapstructure:"capacity" json:"capacity" yaml:"capacity" toml:"capacity" validate:"gte=0"`
	TTL      string `mapstructure:"ttl" json:"ttl" yaml:"ttl" toml:"ttl"`
}

// HealthConfig exposes the internal diagnostics listener.
type HealthConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled" toml:"enabled"`
	Address string `mapstructure:"address" json:"address" yaml:"address" toml:"address"`
}

// MetricsConfig toggles the prometheus observer.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled" toml:"enabled"`
	Path    string `mapstructure:"path" json:"path" yaml:"path" toml:"path"`
}

// Config is the top-level, typed configuration record loaded by viper and
// validated by go-playground/validator, the same split certificates.Config
// uses.
type Config struct {
	Listen     []ListenConfig  `mapstructure:"listen" json:"listen" yaml:"listen" toml:"listen" validate:"required,dive"`
	TLS        TLSConfig       `mapstructure:"tls" json:"tls" yaml:"tls" toml:"tls"`
	Pool       PoolConfig      `mapstructure:"pool" json:"pool" yaml:"pool" toml:"pool" validate:"required"`
	RateLimit  RateLimitConfig `mapstructure:"rateLimit" json:"rateLimit" yaml:"rateLimit" toml:"rateLimit"`
	Executor   ExecutorConfig  `mapstructure:"executor" json:"executor" yaml:"executor" toml:"executor" validate:"required"`
	Timeouts   TimeoutsConfig  `mapstructure:"timeouts" json:"timeouts" yaml:"timeouts" toml:"timeouts"`
	Log        LogConfig       `mapstructure:"log" json:"log" yaml:"log" toml:"log"`
	FileCache  FileCacheConfig `mapstructure:"fileCache" json:"fileCache" yaml:"fileCache" toml:"fileCache"`
	Health     HealthConfig    `mapstructure:"health" json:"health" yaml:"health" toml:"health"`
	Metrics    MetricsConfig   `mapstructure:"metrics" json:"metrics" yaml:"metrics" toml:"metrics"`
}

// Validate runs struct tag validation and additionally checks the
// duration-string fields parse, matching certificates.Config.Validate's
// shape of collecting every violation before returning.
func (c *Config) Validate() error {
	var errs []string

	if er := libval.New().Struct(c); er != nil {
		if _, ok := er.(*libval.InvalidValidationError); ok {
			errs = append(errs, er.Error())
		} else if ve, ok := er.(libval.ValidationErrors); ok {
			for _, e := range ve {
				errs = append(errs, fmt.Sprintf("config field '%s' is not validated by constraint '%s'", e.StructNamespace(), e.ActualTag()))
			}
		} else {
			errs = append(errs, er.Error())
		}
	}

	for name, raw := range c.durationFields() {
		if raw == "" {
			continue
		}
		if _, err := duration.Parse(raw); err != nil {
			errs = append(errs, fmt.Sprintf("config field '%s' is not a valid duration: %v", name, err))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Fields: errs}
}

func (c *Config) durationFields() map[string]string {
	return map[string]string{
		"pool.requestTimeout":     c.Pool.RequestTime,
		"rateLimit.window":        c.RateLimit.Window,
		"executor.heartbeat":      c.Executor.Heartbeat,
		"timeouts.idlePeek":       c.Timeouts.IdlePeek,
		"timeouts.headerRead":     c.Timeouts.HeaderRead,
		"timeouts.handshake":      c.Timeouts.Handshake,
		"timeouts.shutdownDrain":  c.Timeouts.ShutdownDrain,
		"fileCache.ttl":           c.FileCache.TTL,
	}
}

// ValidationError aggregates every constraint violation found while
// validating a Config, rather than stopping at the first one.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	s := "invalid configuration:"
	for _, f := range e.Fields {
		s += "\n  - " + f
	}
	return s
}
