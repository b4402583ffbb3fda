package session

import (
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/optics-suite/optics/pkg/backend"
	"github.com/optics-suite/optics/pkg/keyword"
	"github.com/optics-suite/optics/pkg/version"
)

const (
	pageSourceFile    = "page_sources_log.xml"
	interactablesFile = "interactable_elements.json"
	apiLogFile        = "api_details.log"
	apiHARFile        = "api_details.har"

	screenshotStamp = "20060102T150405.000"
)

// SaveScreenshot encodes img as JPEG under the session output directory and
// returns the written path. Implements keyword.Runtime.
func (s *Session) SaveScreenshot(kw string, img image.Image) (string, error) {
	name := fmt.Sprintf("%s-%s.jpg", time.Now().Format(screenshotStamp), kw)
	path := filepath.Join(s.outputDir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating screenshot file: %w", err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		f.Close()
		return "", fmt.Errorf("encoding screenshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	s.logger.Debug("Screenshot saved", "path", path)
	return path, nil
}

// AppendPageSource appends one timestamped dump to the session page source
// log. Implements keyword.Runtime.
func (s *Session) AppendPageSource(source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := filepath.Join(s.outputDir, pageSourceFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening page source log: %w", err)
	}
	defer f.Close()
	stamp := time.Now().Format(time.RFC3339)
	if _, err := fmt.Fprintf(f, "<!-- %s -->\n%s\n", stamp, source); err != nil {
		return fmt.Errorf("writing page source log: %w", err)
	}
	return nil
}

// WriteInteractables overwrites the interactable elements snapshot.
// Implements keyword.Runtime.
func (s *Session) WriteInteractables(items []backend.ScreenElement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if items == nil {
		items = []backend.ScreenElement{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding interactable elements: %w", err)
	}
	path := filepath.Join(s.outputDir, interactablesFile)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing interactable elements: %w", err)
	}
	return nil
}

// RecordAPICall appends one line to the API text log and rewrites the HAR
// archive with the call included. Implements keyword.Runtime.
func (s *Session) RecordAPICall(rec keyword.APIRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := fmt.Sprintf("%s %s %s %s -> %d (%s)\n",
		rec.StartedAt.Format(time.RFC3339), rec.Name, rec.Method, rec.URL,
		rec.Status, rec.Elapsed.Round(time.Millisecond))
	logPath := filepath.Join(s.outputDir, apiLogFile)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening api log: %w", err)
	}
	if _, werr := f.WriteString(line); werr != nil {
		f.Close()
		return fmt.Errorf("writing api log: %w", werr)
	}
	if err := f.Close(); err != nil {
		return err
	}

	s.har = append(s.har, newHAREntry(rec))
	return s.writeHARLocked()
}

// HAR 1.2 structures, limited to the fields the archive viewers we care
// about actually read.
type harLog struct {
	Log harBody `json:"log"`
}

type harBody struct {
	Version string     `json:"version"`
	Creator harCreator `json:"creator"`
	Entries []harEntry `json:"entries"`
}

type harCreator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type harEntry struct {
	StartedDateTime string      `json:"startedDateTime"`
	Time            float64     `json:"time"`
	Request         harRequest  `json:"request"`
	Response        harResponse `json:"response"`
}

type harRequest struct {
	Method   string       `json:"method"`
	URL      string       `json:"url"`
	Headers  []harHeader  `json:"headers"`
	PostData *harPostData `json:"postData,omitempty"`
}

type harResponse struct {
	Status  int         `json:"status"`
	Headers []harHeader `json:"headers"`
	Content harContent  `json:"content"`
}

type harHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type harPostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

type harContent struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

func newHAREntry(rec keyword.APIRecord) harEntry {
	entry := harEntry{
		StartedDateTime: rec.StartedAt.Format(time.RFC3339Nano),
		Time:            float64(rec.Elapsed) / float64(time.Millisecond),
		Request: harRequest{
			Method:  rec.Method,
			URL:     rec.URL,
			Headers: harHeaders(rec.RequestHeaders),
		},
		Response: harResponse{
			Status:  rec.Status,
			Headers: harHeaders(rec.ResponseHeaders),
			Content: harContent{
				Size:     len(rec.ResponseBody),
				MimeType: contentType(rec.ResponseHeaders),
				Text:     rec.ResponseBody,
			},
		},
	}
	if rec.RequestBody != "" {
		entry.Request.PostData = &harPostData{
			MimeType: contentType(rec.RequestHeaders),
			Text:     rec.RequestBody,
		}
	}
	return entry
}

func harHeaders(h map[string]string) []harHeader {
	if len(h) == 0 {
		return []harHeader{}
	}
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]harHeader, 0, len(names))
	for _, name := range names {
		out = append(out, harHeader{Name: name, Value: h[name]})
	}
	return out
}

func contentType(h map[string]string) string {
	for name, value := range h {
		if name == "Content-Type" || name == "content-type" {
			return value
		}
	}
	return "application/json"
}

func (s *Session) writeHARLocked() error {
	doc := harLog{Log: harBody{
		Version: "1.2",
		Creator: harCreator{Name: version.AppName, Version: version.GitCommit},
		Entries: s.har,
	}}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding har: %w", err)
	}
	path := filepath.Join(s.outputDir, apiHARFile)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing har: %w", err)
	}
	return nil
}
