package storage

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/saviobatista/sbs-archive/internal/types"
)

const filePrefix = "archive_jobs_"

// Journal appends job log entries as JSON lines to a file per UTC day.
// Finished days are gzip-compressed when the file rotates.
type Journal struct {
	outputDir string
	file      *os.File
	day       string
	mu        sync.Mutex
	stopChan  chan struct{}
	wg        sync.WaitGroup
	now       func() time.Time
}

// New creates a new Journal writing into outputDir
func New(outputDir string) *Journal {
	return &Journal{
		outputDir: outputDir,
		stopChan:  make(chan struct{}),
		now:       time.Now,
	}
}

// Start opens today's file and starts the rotation timer
func (j *Journal) Start() error {
	if err := os.MkdirAll(j.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	j.mu.Lock()
	err := j.rotateFile()
	j.mu.Unlock()
	if err != nil {
		return err
	}
	j.compressLeftovers()

	j.wg.Add(1)
	go j.rotationTimer()

	return nil
}

// Stop closes the current file and stops the rotation timer
func (j *Journal) Stop() error {
	select {
	case <-j.stopChan:
	default:
		close(j.stopChan)
	}
	j.wg.Wait()

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file != nil {
		err := j.file.Close()
		j.file = nil
		return err
	}
	return nil
}

// RecordJobRun appends entry as one JSON line
func (j *Journal) RecordJobRun(ctx context.Context, entry types.ArchiveLogEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal job run: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	// a timer that missed midnight is caught up here
	if j.file == nil || j.day != j.today() {
		if err := j.rotateAndCompress(); err != nil {
			return err
		}
	}

	_, err = j.file.Write(append(line, '\n'))
	return err
}

func (j *Journal) today() string {
	return j.now().UTC().Format("2006-01-02")
}

func (j *Journal) path(day string) string {
	return filepath.Join(j.outputDir, filePrefix+day+".jsonl")
}

// rotationTimer handles daily rotation at midnight UTC
func (j *Journal) rotationTimer() {
	defer j.wg.Done()

	for {
		now := j.now().UTC()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)

		select {
		case <-time.After(nextMidnight.Sub(now)):
			j.mu.Lock()
			err := j.rotateAndCompress()
			j.mu.Unlock()
			if err != nil {
				log.Printf("Error during journal rotation: %v", err)
			}
		case <-j.stopChan:
			return
		}
	}
}

// rotateAndCompress closes the current file, compresses it if its day is
// over, and opens today's file. Callers hold j.mu.
func (j *Journal) rotateAndCompress() error {
	previous := j.day
	if j.file != nil {
		if err := j.file.Close(); err != nil {
			log.Printf("Warning: failed to close journal file: %v", err)
		}
		j.file = nil
	}

	if previous != "" && previous != j.today() {
		if _, err := os.Stat(j.path(previous)); err == nil {
			if err := compressFile(j.path(previous)); err != nil {
				return fmt.Errorf("failed to compress file: %w", err)
			}
		}
	}

	return j.rotateFile()
}

// compressLeftovers compresses plain files of earlier days, left behind when
// the process stopped before its midnight rotation
func (j *Journal) compressLeftovers() {
	matches, err := filepath.Glob(filepath.Join(j.outputDir, filePrefix+"*.jsonl"))
	if err != nil {
		log.Printf("Warning: failed to list journal files: %v", err)
		return
	}
	current := j.path(j.today())
	for _, path := range matches {
		if path == current {
			continue
		}
		if err := compressFile(path); err != nil {
			log.Printf("Warning: failed to compress %s: %v", path, err)
			continue
		}
		log.Printf("Compressed leftover journal %s", filepath.Base(path))
	}
}

// compressFile gzips path into path.gz and removes the original
func compressFile(path string) error {
	source, err := os.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()

	target, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer target.Close()

	gzipWriter := gzip.NewWriter(target)
	if _, err := io.Copy(gzipWriter, source); err != nil {
		return err
	}
	// Close the gzip writer to ensure all data is written
	if err := gzipWriter.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}

// rotateFile opens the file for today. Callers hold j.mu.
func (j *Journal) rotateFile() error {
	day := j.today()
	file, err := os.OpenFile(j.path(day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create journal file: %w", err)
	}

	j.file = file
	j.day = day
	return nil
}
