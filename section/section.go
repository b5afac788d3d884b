// Package section encodes reports as piggyback sections and publishes them to
// shared results files under the results-directory lock.
package section

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/suitesched/suitesched/lock"
	"github.com/suitesched/suitesched/model"
)

// Version is the payload version written into every section.
const Version = 1

const (
	// SuiteExecutionReport names sections holding a model.SuiteExecutionReport.
	SuiteExecutionReport = "suitesched_suite_execution_report"
	// EnvironmentBuildStates names sections holding model.EnvironmentBuildStates.
	EnvironmentBuildStates = "suitesched_environment_build_states"
)

type payload struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// Section is a decoded results file.
type Section struct {
	Name    string
	Host    model.Host
	Version int
	Data    json.RawMessage
}

// Decode unmarshals the section payload into v.
func (s Section) Decode(v any) error {
	if err := json.Unmarshal(s.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s section: %w", s.Name, err)
	}
	return nil
}

// Encode renders v as a section named name, wrapped in piggyback markers
// when host names a piggyback host.
func Encode(name string, host model.Host, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	body, err := json.Marshal(payload{Version: Version, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}

	var buf bytes.Buffer
	if host.Piggyback != "" {
		fmt.Fprintf(&buf, "<<<<%s>>>>\n", host.Piggyback)
	}
	fmt.Fprintf(&buf, "<<<%s:sep(0)>>>\n", name)
	buf.Write(body)
	buf.WriteByte('\n')
	if host.Piggyback != "" {
		buf.WriteString("<<<<>>>>\n")
	}
	return buf.Bytes(), nil
}

// Parse decodes the output of Encode.
func Parse(content []byte) (Section, error) {
	var sec Section
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), len(content)+1)

	var lines []string
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return sec, fmt.Errorf("failed to scan section: %w", err)
	}

	if len(lines) > 0 && strings.HasPrefix(lines[0], "<<<<") {
		if len(lines) < 2 || lines[len(lines)-1] != "<<<<>>>>" {
			return sec, fmt.Errorf("unterminated piggyback block")
		}
		sec.Host.Piggyback = strings.TrimSuffix(strings.TrimPrefix(lines[0], "<<<<"), ">>>>")
		lines = lines[1 : len(lines)-1]
	}
	if len(lines) != 2 {
		return sec, fmt.Errorf("expected section header and payload, got %d lines", len(lines))
	}

	header := lines[0]
	if !strings.HasPrefix(header, "<<<") || !strings.HasSuffix(header, ":sep(0)>>>") {
		return sec, fmt.Errorf("malformed section header %q", header)
	}
	sec.Name = strings.TrimSuffix(strings.TrimPrefix(header, "<<<"), ":sep(0)>>>")

	var p payload
	if err := json.Unmarshal([]byte(lines[1]), &p); err != nil {
		return sec, fmt.Errorf("failed to unmarshal %s payload: %w", sec.Name, err)
	}
	if p.Version != Version {
		return sec, fmt.Errorf("unsupported %s version %d", sec.Name, p.Version)
	}
	sec.Version = p.Version
	sec.Data = p.Data
	return sec, nil
}

// Write publishes v to path while holding the write lock of locker. The file
// is replaced by rename so readers never observe a partial section.
func Write(path string, host model.Host, locker lock.Locker, name string, v any) error {
	content, err := Encode(name, host, v)
	if err != nil {
		return err
	}

	l, err := locker.WaitForWriteLock()
	if err != nil {
		return err
	}
	if err := atomicWrite(path, content); err != nil {
		l.Release()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return l.Release()
}

// Read loads the section at path while holding the read lock of locker.
func Read(path string, locker lock.Locker) (Section, error) {
	l, err := locker.WaitForReadLock()
	if err != nil {
		return Section{}, err
	}
	content, readErr := os.ReadFile(path)
	if err := l.Release(); err != nil {
		return Section{}, err
	}
	if readErr != nil {
		return Section{}, fmt.Errorf("failed to read %s: %w", path, readErr)
	}

	sec, err := Parse(content)
	if err != nil {
		return Section{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return sec, nil
}

func atomicWrite(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".suitesched-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}
