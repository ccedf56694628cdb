// Package filestore keeps per-source coverage and item tables on local disk:
// <dir>/<source>.json holds the source name and covered interval, <dir>/<source>.csv
// the items.
package filestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"mp_harvester/internal/domain"
	"mp_harvester/internal/fsname"
)

const (
	timeLayout   = "2006-01-02 15:04:05"
	accountsFile = "accounts.json"
	utf8BOM      = "\uFEFF"
)

// coverageFile is the <source>.json layout. Source keeps the display name the
// file-safe stem loses; files written without it fall back to the stem.
type coverageFile struct {
	Source string `json:"source,omitempty"`
	Begin  string `json:"begin"`
	End    string `json:"end"`
}

var header = []string{"id", "title", "created_at", "content_link", "digest", "tags", "source"}

type Store struct {
	dir      string
	location *time.Location
}

func New(dir string, loc *time.Location) *Store {
	if loc == nil {
		loc = time.Local
	}
	return &Store{dir: dir, location: loc}
}

func (s *Store) paths(source string) (jsonPath, csvPath string) {
	name := fsname.Sanitize(source)
	return filepath.Join(s.dir, name+".json"), filepath.Join(s.dir, name+".csv")
}

// LoadCoverage returns the zero interval when nothing was stored yet.
func (s *Store) LoadCoverage(_ context.Context, source string) (domain.CoverageState, error) {
	jsonPath, _ := s.paths(source)
	state := domain.CoverageState{Source: source}

	data, err := os.ReadFile(jsonPath)
	if errors.Is(err, fs.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("read coverage: %w", err)
	}

	covered, err := domain.DecodeInterval(data, s.location)
	if err != nil {
		return state, fmt.Errorf("%s: %w", jsonPath, err)
	}
	state.Covered = covered
	return state, nil
}

// LoadItems returns an empty table when nothing was stored yet.
func (s *Store) LoadItems(_ context.Context, source string) (*domain.ItemTable, error) {
	_, csvPath := s.paths(source)

	f, err := os.Open(csvPath)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.NewItemTable(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open items: %w", err)
	}
	defer f.Close()

	rows, err := s.readItems(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", csvPath, err)
	}
	return domain.NewItemTable(rows...), nil
}

// Save writes the item table first and the coverage second, each atomically,
// so stored coverage never claims items that were not written.
func (s *Store) Save(_ context.Context, state domain.CoverageState, table *domain.ItemTable) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	jsonPath, csvPath := s.paths(state.Source)

	if err := writeAtomic(csvPath, func(w io.Writer) error {
		return s.writeItems(w, table.Rows())
	}); err != nil {
		return fmt.Errorf("save items: %w", err)
	}

	data, err := json.MarshalIndent(coverageFile{
		Source: state.Source,
		Begin:  state.Covered.Begin.Format(domain.DateLayout),
		End:    state.Covered.End.Format(domain.DateLayout),
	}, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal coverage: %w", err)
	}
	if err := writeAtomic(jsonPath, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return fmt.Errorf("save coverage: %w", err)
	}
	return nil
}

// Reset forgets everything stored for source.
func (s *Store) Reset(_ context.Context, source string) error {
	jsonPath, csvPath := s.paths(source)
	for _, p := range []string{jsonPath, csvPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("reset %s: %w", source, err)
		}
	}
	return nil
}

// Sources lists the sources with stored coverage by the name they were saved
// under.
func (s *Store) Sources(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list cache dir: %w", err)
	}

	var sources []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == accountsFile || filepath.Ext(name) != ".json" {
			continue
		}
		source, err := s.sourceName(filepath.Join(s.dir, name))
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	sort.Strings(sources)
	return sources, nil
}

func (s *Store) sourceName(path string) (string, error) {
	stem := strings.TrimSuffix(filepath.Base(path), ".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read coverage: %w", err)
	}
	var f coverageFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	if f.Source == "" {
		return stem, nil
	}
	return f.Source, nil
}

// LoadAccounts returns the cached account name to source id mapping.
func (s *Store) LoadAccounts(_ context.Context) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, accountsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read accounts: %w", err)
	}

	accounts := map[string]string{}
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("parse accounts: %w", err)
	}
	return accounts, nil
}

func (s *Store) SaveAccounts(_ context.Context, accounts map[string]string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	data, err := json.MarshalIndent(accounts, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal accounts: %w", err)
	}
	return writeAtomic(filepath.Join(s.dir, accountsFile), func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

func (s *Store) writeItems(w io.Writer, rows []domain.ListingItem) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			r.ID,
			r.Title,
			r.CreatedAt.In(s.location).Format(timeLayout),
			r.ContentURL,
			r.Digest,
			strings.Join(r.Tags, ","),
			r.Source,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (s *Store) readItems(r io.Reader) ([]domain.ListingItem, error) {
	br := bufio.NewReader(r)
	if lead, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(lead, []byte(utf8BOM)) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	col := make(map[string]int, len(head))
	for i, name := range head {
		col[name] = i
	}
	for _, required := range []string{"id", "title", "created_at", "content_link"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	get := func(rec []string, name string) string {
		if i, ok := col[name]; ok && i < len(rec) {
			return rec[i]
		}
		return ""
	}

	var rows []domain.ListingItem
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		created, err := time.ParseInLocation(timeLayout, get(rec, "created_at"), s.location)
		if err != nil {
			return nil, fmt.Errorf("row %s: parse created_at: %w", get(rec, "id"), err)
		}

		var tags []string
		if t := get(rec, "tags"); t != "" {
			tags = strings.Split(t, ",")
		}

		rows = append(rows, domain.ListingItem{
			ID:         get(rec, "id"),
			Title:      get(rec, "title"),
			ContentURL: get(rec, "content_link"),
			CreatedAt:  created,
			Digest:     get(rec, "digest"),
			Tags:       tags,
			Source:     get(rec, "source"),
		})
	}
	return rows, nil
}

// writeAtomic writes to a temp file next to path and renames it into place.
func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
