package filestore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"mp_harvester/internal/domain"
)

type StoreTestSuite struct {
	suite.Suite
	ctx   context.Context
	dir   string
	store *Store
	loc   *time.Location
}

func (s *StoreTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.dir = s.T().TempDir()
	s.loc = time.FixedZone("CST", 8*3600)
	s.store = New(s.dir, s.loc)
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) item(id string, created time.Time) domain.ListingItem {
	return domain.ListingItem{
		ID:         id,
		Title:      "title, with \"quotes\" " + id,
		ContentURL: "https://mp.example.com/s/" + id,
		CreatedAt:  created,
		Digest:     "digest " + id,
		Source:     "Go/Weekly",
		Tags:       []string{"1", "2"},
	}
}

func (s *StoreTestSuite) TestLoad_EmptyState() {
	state, err := s.store.LoadCoverage(s.ctx, "Go/Weekly")
	s.Require().NoError(err)
	s.True(state.Covered.IsZero())
	s.Equal("Go/Weekly", state.Source)

	table, err := s.store.LoadItems(s.ctx, "Go/Weekly")
	s.Require().NoError(err)
	s.Equal(0, table.Len())
}

func (s *StoreTestSuite) TestSaveAndLoad_RoundTrip() {
	t1 := time.Date(2024, 2, 1, 9, 30, 0, 0, s.loc)
	t2 := time.Date(2024, 2, 3, 18, 0, 5, 0, s.loc)
	table := domain.NewItemTable(s.item("a", t1), s.item("b", t2))

	covered, err := domain.ParseInterval("2024-01-01", "2024-03-01", s.loc)
	s.Require().NoError(err)

	err = s.store.Save(s.ctx, domain.CoverageState{Source: "Go/Weekly", Covered: covered}, table)
	s.Require().NoError(err)

	raw, err := os.ReadFile(filepath.Join(s.dir, "Go_Weekly.json"))
	s.Require().NoError(err)
	s.JSONEq(`{"source":"Go/Weekly","begin":"2024-01-01","end":"2024-03-01"}`, string(raw))

	csvRaw, err := os.ReadFile(filepath.Join(s.dir, "Go_Weekly.csv"))
	s.Require().NoError(err)
	s.True(strings.HasPrefix(string(csvRaw), utf8BOM+"id,title,created_at,content_link,digest,tags,source\n"))

	state, err := s.store.LoadCoverage(s.ctx, "Go/Weekly")
	s.Require().NoError(err)
	s.True(covered.Equal(state.Covered))

	loaded, err := s.store.LoadItems(s.ctx, "Go/Weekly")
	s.Require().NoError(err)
	rows := loaded.Rows()
	s.Require().Len(rows, 2)
	s.Equal("b", rows[0].ID)
	s.True(t2.Equal(rows[0].CreatedAt))
	s.Equal(s.item("a", t1).Title, rows[1].Title)
	s.Equal([]string{"1", "2"}, rows[1].Tags)
	s.Equal("Go/Weekly", rows[1].Source)
}

func (s *StoreTestSuite) TestSave_ZeroCoverageRoundTrips() {
	err := s.store.Save(s.ctx, domain.CoverageState{Source: "x"}, domain.NewItemTable())
	s.Require().NoError(err)

	state, err := s.store.LoadCoverage(s.ctx, "x")
	s.Require().NoError(err)
	s.True(state.Covered.IsZero())
}

func (s *StoreTestSuite) TestReset() {
	err := s.store.Save(s.ctx, domain.CoverageState{Source: "x"}, domain.NewItemTable(s.item("a", time.Now())))
	s.Require().NoError(err)

	s.Require().NoError(s.store.Reset(s.ctx, "x"))
	s.Require().NoError(s.store.Reset(s.ctx, "x"))

	table, err := s.store.LoadItems(s.ctx, "x")
	s.Require().NoError(err)
	s.Equal(0, table.Len())
}

func (s *StoreTestSuite) TestLoadItems_MissingColumn() {
	path := filepath.Join(s.dir, "broken.csv")
	s.Require().NoError(os.WriteFile(path, []byte("id,title\n1,a\n"), 0o644))

	_, err := s.store.LoadItems(s.ctx, "broken")
	s.Require().Error(err)
	s.Contains(err.Error(), "created_at")
}

func (s *StoreTestSuite) TestAccounts() {
	accounts, err := s.store.LoadAccounts(s.ctx)
	s.Require().NoError(err)
	s.Empty(accounts)

	s.Require().NoError(s.store.SaveAccounts(s.ctx, map[string]string{"Go Weekly": "MzA1"}))

	accounts, err = s.store.LoadAccounts(s.ctx)
	s.Require().NoError(err)
	s.Equal(map[string]string{"Go Weekly": "MzA1"}, accounts)
}

func (s *StoreTestSuite) TestSources() {
	sources, err := s.store.Sources(s.ctx)
	s.Require().NoError(err)
	s.Empty(sources)

	s.Require().NoError(s.store.Save(s.ctx, domain.CoverageState{Source: "b"}, domain.NewItemTable()))
	s.Require().NoError(s.store.Save(s.ctx, domain.CoverageState{Source: "Go/Weekly"}, domain.NewItemTable()))
	s.Require().NoError(s.store.SaveAccounts(s.ctx, map[string]string{"b": "1"}))

	sources, err = s.store.Sources(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"Go/Weekly", "b"}, sources)
}

func (s *StoreTestSuite) TestSources_FileWithoutNameUsesStem() {
	s.Require().NoError(os.MkdirAll(s.dir, 0o755))
	s.Require().NoError(os.WriteFile(filepath.Join(s.dir, "Rust_Daily.json"),
		[]byte(`{"begin": "2024-01-01", "end": "2024-02-01"}`), 0o644))

	sources, err := s.store.Sources(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"Rust_Daily"}, sources)

	state, err := s.store.LoadCoverage(s.ctx, "Rust_Daily")
	s.Require().NoError(err)
	s.Equal("2024-02-01", state.Covered.End.Format(domain.DateLayout))
}
