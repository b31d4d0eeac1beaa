/*
MIT License

Copyright (c) 2019 Nicolas JUHEL

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

package applog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the structured-logging surface shared by the server, the
// worker pool and the SAPI bridge's log-message callback.
type Logger interface {
	SetLevel(lvl Level)
	GetLevel() Level

	SetFields(f Fields)
	GetFields() Fields

	WithFields(f Fields) Logger

	Debug(message string, fields Fields)
	Info(message string, fields Fields)
	Warning(message string, fields Fields)
	Error(message string, err error, fields Fields)
	Fatal(message string, err error, fields Fields)
	Panic(message string, err error, fields Fields)

	// SetOutput changes the writer used for log lines, matching the
	// teacher's logger's support for file / syslog / stdout destinations.
	SetOutput(w io.Writer)
}

type entryLogger struct {
	log    *logrus.Logger
	fields Fields
}

// New builds a Logger backed by logrus, writing JSON lines to stdout by
// default with the given minimum level.
func New(lvl Level) Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "time",
			logrus.FieldKeyMsg:  "message",
			logrus.FieldKeyFunc: "caller",
		},
	})
	l.SetLevel(lvl.logrus())
	return &entryLogger{log: l, fields: Fields{}}
}

func (e *entryLogger) SetLevel(lvl Level) { e.log.SetLevel(lvl.logrus()) }

func (e *entryLogger) GetLevel() Level {
	switch e.log.GetLevel() {
	case logrus.PanicLevel:
		return PanicLevel
	case logrus.FatalLevel:
		return FatalLevel
	case logrus.ErrorLevel:
		return ErrorLevel
	case logrus.WarnLevel:
		return WarnLevel
	case logrus.DebugLevel:
		return DebugLevel
	default:
		return InfoLevel
	}
}

func (e *entryLogger) SetFields(f Fields) { e.fields = f.Clone() }
func (e *entryLogger) GetFields() Fields  { return e.fields.Clone() }

func (e *entryLogger) WithFields(f Fields) Logger {
	merged := e.fields.Clone()
	for k, v := range f {
		merged[k] = v
	}
	return &entryLogger{log: e.log, fields: merged}
}

func (e *entryLogger) SetOutput(w io.Writer) { e.log.SetOutput(w) }

func (e *entryLogger) entry(fields Fields) *logrus.Entry {
	merged := e.fields.Clone()
	for k, v := range fields {
		merged[k] = v
	}
	return e.log.WithFields(merged.logrus())
}

func (e *entryLogger) Debug(message string, fields Fields) { e.entry(fields).Debug(message) }
func (e *entryLogger) Info(message string, fields Fields)  { e.entry(fields).Info(message) }
func (e *entryLogger) Warning(message string, fields Fields) {
	e.entry(fields).Warn(message)
}

func (e *entryLogger) Error(message string, err error, fields Fields) {
	ent := e.entry(fields)
	if err != nil {
		ent = ent.WithError(err)
	}
	ent.Error(message)
}

func (e *entryLogger) Fatal(message string, err error, fields Fields) {
	ent := e.entry(fields)
	if err != nil {
		ent = ent.WithError(err)
	}
	ent.Fatal(message)
}

func (e *entryLogger) Panic(message string, err error, fields Fields) {
	ent := e.entry(fields)
	if err != nil {
		ent = ent.WithError(err)
	}
	ent.Panic(message)
}
