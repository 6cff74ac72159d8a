/*
 * Copyright 2026 RatAcad.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package academy consumes the on-disk layouts owned by the settings
// storage collaborator: the fleet and camera tables, training presets,
// and the directory conventions for protocols, subjects and settings.
package academy

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/RatAcad/BpodAcademy/pkg/models"
)

const (
	fleetFile   = "AcademyConfig.csv"
	camerasFile = "AcademyCameras.csv"

	defaultSettingsName = "DefaultSettings"
)

var ErrNoRoot = errors.New("academy root directory not specified")

// Store reads and writes the academy directory tree rooted at one local
// path.
type Store struct {
	root string
}

// New opens the academy tree at root, creating the administrative
// directories if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, ErrNoRoot
	}

	for _, dir := range []string{
		filepath.Join(root, "Academy"),
		filepath.Join(root, "Academy", "logs"),
		filepath.Join(root, "Protocols"),
		filepath.Join(root, "Data"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating academy dir: %w", err)
		}
	}

	return &Store{root: root}, nil
}

// Root returns the academy root path.
func (s *Store) Root() string { return s.root }

// LogDir returns the per-device engine log directory.
func (s *Store) LogDir() string { return filepath.Join(s.root, "Academy", "logs") }

// LoadFleet reads the fleet and camera tables. Missing tables yield an
// empty fleet, not an error.
func (s *Store) LoadFleet() (*models.FleetConfig, error) {
	cfg := &models.FleetConfig{Cameras: make(map[string]models.CameraConfig)}

	rows, err := readCSV(filepath.Join(s.root, "Academy", fleetFile))
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		if len(row) < 2 {
			continue
		}

		dev := models.Device{ID: row[0], Serial: row[1], Status: models.StatusOffline}

		if len(row) >= 4 {
			dev.Row, _ = strconv.Atoi(row[2])
			dev.Column, _ = strconv.Atoi(row[3])
		}

		cfg.Devices = append(cfg.Devices, dev)
	}

	camRows, err := readCSV(filepath.Join(s.root, "Academy", camerasFile))
	if err != nil {
		return nil, err
	}

	for _, row := range camRows {
		if len(row) < 9 {
			continue
		}

		cam := models.CameraConfig{DeviceID: row[0], Capture: row[1]}
		cam.Width, _ = strconv.Atoi(row[2])
		cam.Height, _ = strconv.Atoi(row[3])
		cam.FPS, _ = strconv.Atoi(row[4])
		cam.Exposure, _ = strconv.Atoi(row[5])
		cam.Gain, _ = strconv.Atoi(row[6])

		if row[7] != "" {
			if ch, err := strconv.Atoi(row[7]); err == nil {
				cam.SyncChannel = &ch
			}
		}

		cam.RecordProtocol = row[8]
		cfg.Cameras[cam.DeviceID] = cam
	}

	return cfg, nil
}

// SaveFleet persists the fleet and camera tables.
func (s *Store) SaveFleet(cfg *models.FleetConfig) error {
	rows := make([][]string, 0, len(cfg.Devices))
	for _, dev := range cfg.Devices {
		rows = append(rows, []string{
			dev.ID, dev.Serial,
			strconv.Itoa(dev.Row), strconv.Itoa(dev.Column),
		})
	}

	if err := writeCSV(filepath.Join(s.root, "Academy", fleetFile), rows); err != nil {
		return err
	}

	camRows := make([][]string, 0, len(cfg.Cameras))

	for _, dev := range cfg.Devices {
		cam, ok := cfg.Cameras[dev.ID]
		if !ok {
			continue
		}

		channel := ""
		if cam.SyncChannel != nil {
			channel = strconv.Itoa(*cam.SyncChannel)
		}

		camRows = append(camRows, []string{
			cam.DeviceID, cam.Capture,
			strconv.Itoa(cam.Width), strconv.Itoa(cam.Height),
			strconv.Itoa(cam.FPS), strconv.Itoa(cam.Exposure), strconv.Itoa(cam.Gain),
			channel, cam.RecordProtocol,
		})
	}

	return writeCSV(filepath.Join(s.root, "Academy", camerasFile), camRows)
}

// Protocols lists protocol directories under Protocols/ that contain a
// script of the same name.
func (s *Store) Protocols() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "Protocols"))
	if err != nil {
		return nil, fmt.Errorf("reading protocol dir: %w", err)
	}

	var protocols []string

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		script := filepath.Join(s.root, "Protocols", e.Name(), e.Name()+".m")
		if _, err := os.Stat(script); err == nil {
			protocols = append(protocols, e.Name())
		}
	}

	return protocols, nil
}

// Subjects lists subject directories under Data/ enrolled in the given
// protocol.
func (s *Store) Subjects(protocol string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "Data"))
	if err != nil {
		return nil, fmt.Errorf("reading data dir: %w", err)
	}

	var subjects []string

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		if _, err := os.Stat(filepath.Join(s.root, "Data", e.Name(), protocol)); err == nil {
			subjects = append(subjects, e.Name())
		}
	}

	return subjects, nil
}

// AddSubject enrolls a subject in a protocol: session directories plus a
// DefaultSettings placeholder. Idempotent.
func (s *Store) AddSubject(protocol, subject string) error {
	base := filepath.Join(s.root, "Data", subject, protocol)

	for _, dir := range []string{
		filepath.Join(base, "Session Data"),
		filepath.Join(base, "Session Settings"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating subject dirs: %w", err)
		}
	}

	settings := filepath.Join(base, "Session Settings", defaultSettingsName+".mat")
	if _, err := os.Stat(settings); err == nil {
		return nil
	}

	return os.WriteFile(settings, nil, 0o644)
}

// Settings lists the settings file stems for a subject on a protocol.
func (s *Store) Settings(protocol, subject string) ([]string, error) {
	dir := filepath.Join(s.root, "Data", subject, protocol, "Session Settings")

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading settings dir: %w", err)
	}

	var settings []string

	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".mat"); ok {
			settings = append(settings, name)
		}
	}

	return settings, nil
}

// CopySettings copies one settings file to another protocol/subject pair,
// keeping the settings name.
func (s *Store) CopySettings(fromProtocol, fromSubject, fromSettings, toProtocol, toSubject string) error {
	src := filepath.Join(s.root, "Data", fromSubject, fromProtocol, "Session Settings", fromSettings+".mat")
	dst := filepath.Join(s.root, "Data", toSubject, toProtocol, "Session Settings", fromSettings+".mat")

	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading settings to copy: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating settings dir: %w", err)
	}

	return os.WriteFile(dst, data, 0o644)
}

// CreateSettings writes a new settings file. The file content format is
// owned by the settings storage collaborator; the core only places it.
func (s *Store) CreateSettings(protocol, subject, name string, contents []byte) error {
	dir := filepath.Join(s.root, "Data", subject, protocol, "Session Settings")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating settings dir: %w", err)
	}

	return os.WriteFile(filepath.Join(dir, name+".mat"), contents, 0o644)
}

// DeleteLogs removes every per-device engine log.
func (s *Store) DeleteLogs() error {
	entries, err := os.ReadDir(s.LogDir())
	if err != nil {
		return fmt.Errorf("reading log dir: %w", err)
	}

	for _, e := range entries {
		if err := os.Remove(filepath.Join(s.LogDir(), e.Name())); err != nil {
			return fmt.Errorf("deleting log: %w", err)
		}
	}

	return nil
}

// HasCalibration reports whether a liquid calibration file exists for the
// device.
func (s *Store) HasCalibration(deviceID string) bool {
	path := filepath.Join(s.root, "Calibration Files", "LiquidCalibration_"+deviceID+".mat")
	_, err := os.Stat(path)

	return err == nil
}

// SavePreset persists a named training-configuration preset.
func (s *Store) SavePreset(name string, entries []models.PresetEntry) error {
	dir := filepath.Join(s.root, "Academy", "Presets")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating presets dir: %w", err)
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{e.DeviceID, e.Protocol, e.Subject, e.Settings})
	}

	return writeCSV(filepath.Join(dir, name+".csv"), rows)
}

// LoadPreset reads a named training-configuration preset.
func (s *Store) LoadPreset(name string) ([]models.PresetEntry, error) {
	rows, err := readCSV(filepath.Join(s.root, "Academy", "Presets", name+".csv"))
	if err != nil {
		return nil, err
	}

	entries := make([]models.PresetEntry, 0, len(rows))

	for _, row := range rows {
		if len(row) < 4 {
			continue
		}

		entries = append(entries, models.PresetEntry{
			DeviceID: row[0], Protocol: row[1], Subject: row[2], Settings: row[3],
		})
	}

	return entries, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return rows, nil
}

func writeCSV(path string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	writer := csv.NewWriter(file)

	if err := writer.WriteAll(rows); err != nil {
		_ = file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return file.Close()
}
