package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"mp_harvester/internal/domain"
	"mp_harvester/internal/service/mocks"
)

type HarvesterTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller
	ctx  context.Context

	store     *mocks.MockStore
	accounts  *mocks.MockAccountCache
	directory *mocks.MockDirectory
	fetcher   *mocks.MockFetcher
	retriever *mocks.MockRetriever
	publisher *mocks.MockPublisher

	harvester *Harvester
	opts      Options
	logger    *slog.Logger
	account   domain.Account
}

func (s *HarvesterTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.ctx = context.Background()

	s.store = mocks.NewMockStore(s.ctrl)
	s.accounts = mocks.NewMockAccountCache(s.ctrl)
	s.directory = mocks.NewMockDirectory(s.ctrl)
	s.fetcher = mocks.NewMockFetcher(s.ctrl)
	s.retriever = mocks.NewMockRetriever(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)

	s.opts = Options{
		MaxItems:     0,
		Concurrency:  3,
		MaxRetries:   3,
		Timeout:      30 * time.Second,
		MinSizeBytes: 3072,
		OutputDir:    "/out",
		Extension:    "md",
		Location:     time.UTC,
	}
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.account = domain.Account{ID: "MzA1", Name: "Go Weekly"}

	s.harvester = NewHarvester(s.store, s.accounts, s.directory, s.fetcher, s.retriever, s.publisher, s.logger, s.opts)
}

func (s *HarvesterTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestHarvesterTestSuite(t *testing.T) {
	suite.Run(t, new(HarvesterTestSuite))
}

func day(v string) time.Time {
	t, err := time.ParseInLocation(domain.DateLayout, v, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func iv(begin, end string) domain.Interval {
	return domain.Interval{Begin: day(begin), End: day(end)}
}

func item(id, created string) domain.ListingItem {
	return domain.ListingItem{
		ID:         id,
		Title:      "Title " + id,
		ContentURL: "https://mp.example.com/s/" + id,
		CreatedAt:  day(created).Add(10 * time.Hour),
	}
}

func (s *HarvesterTestSuite) expectState(covered domain.Interval, rows ...domain.ListingItem) {
	s.store.EXPECT().LoadCoverage(s.ctx, "Go Weekly").Return(domain.CoverageState{Source: "Go Weekly", Covered: covered}, nil)
	s.store.EXPECT().LoadItems(s.ctx, "Go Weekly").Return(domain.NewItemTable(rows...), nil)
}

func (s *HarvesterTestSuite) TestSynchronize_ForwardExtension() {
	existing := item("old", "2024-01-20")
	existing.Source = "Go Weekly"
	s.expectState(iv("2024-01-01", "2024-02-01"), existing)

	s.fetcher.EXPECT().
		Fetch(s.ctx, "MzA1", iv("2024-02-01", "2024-03-01"), 0).
		Return([]domain.ListingItem{item("b", "2024-02-20"), item("a", "2024-02-05")}, domain.WalkPassedBegin, nil)

	s.store.EXPECT().Save(s.ctx, gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, state domain.CoverageState, table *domain.ItemTable) error {
			s.Equal("Go Weekly", state.Source)
			s.True(iv("2024-01-01", "2024-03-01").Equal(state.Covered))
			s.Equal(3, table.Len())
			rows := table.Rows()
			s.Equal("b", rows[0].ID)
			s.Equal("old", rows[2].ID)
			for _, r := range rows {
				s.Equal("Go Weekly", r.Source)
			}
			return nil
		},
	)

	report, err := s.harvester.Synchronize(s.ctx, s.account, iv("2024-01-15", "2024-03-01"))

	s.NoError(err)
	s.Equal(domain.PhaseDone, report.Phase)
	s.Require().NotNil(report.Remaining)
	s.True(iv("2024-02-01", "2024-03-01").Equal(*report.Remaining))
	s.True(iv("2024-01-01", "2024-02-01").Equal(report.CoverageBefore))
	s.True(iv("2024-01-01", "2024-03-01").Equal(report.CoverageAfter))
	s.Equal(2, report.Discovered)
	s.Equal(2, report.Added)
	s.False(report.NothingToDo())
}

func (s *HarvesterTestSuite) TestSynchronize_AlreadyCovered() {
	s.expectState(iv("2024-01-01", "2024-03-01"))

	report, err := s.harvester.Synchronize(s.ctx, s.account, iv("2024-01-10", "2024-02-10"))

	s.NoError(err)
	s.True(report.NothingToDo())
	s.Nil(report.Remaining)
	s.True(report.CoverageBefore.Equal(report.CoverageAfter))
}

func (s *HarvesterTestSuite) TestSynchronize_EmptyFetchDoesNotExtendCoverage() {
	s.expectState(iv("2024-01-01", "2024-02-01"))
	s.fetcher.EXPECT().Fetch(s.ctx, "MzA1", iv("2024-02-01", "2024-03-01"), 0).Return(nil, domain.WalkExhausted, nil)

	report, err := s.harvester.Synchronize(s.ctx, s.account, iv("2024-01-15", "2024-03-01"))

	s.NoError(err)
	s.Equal(domain.PhaseDone, report.Phase)
	s.Zero(report.Discovered)
	s.True(iv("2024-01-01", "2024-02-01").Equal(report.CoverageAfter))
}

func (s *HarvesterTestSuite) TestSynchronize_CappedWalkKeepsCoverage() {
	s.harvester.opts.MaxItems = 2
	s.expectState(iv("2024-01-01", "2024-02-01"), item("old", "2024-01-20"))
	s.fetcher.EXPECT().
		Fetch(s.ctx, "MzA1", iv("2024-02-01", "2024-03-01"), 2).
		Return([]domain.ListingItem{item("b", "2024-02-28"), item("a", "2024-02-25")}, domain.WalkCapped, nil)
	s.store.EXPECT().Save(s.ctx, gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, state domain.CoverageState, table *domain.ItemTable) error {
			s.True(iv("2024-01-01", "2024-02-01").Equal(state.Covered))
			s.Equal(3, table.Len())
			return nil
		},
	)

	report, err := s.harvester.Synchronize(s.ctx, s.account, iv("2024-01-15", "2024-03-01"))

	s.NoError(err)
	s.Equal(domain.PhaseDone, report.Phase)
	s.Equal(domain.WalkCapped, report.Stop)
	s.Equal(2, report.Added)
	s.True(iv("2024-01-01", "2024-02-01").Equal(report.CoverageAfter))
}

func (s *HarvesterTestSuite) TestSynchronize_FetchErrorLeavesCoverage() {
	s.expectState(iv("2024-01-01", "2024-02-01"))
	s.fetcher.EXPECT().
		Fetch(s.ctx, "MzA1", gomock.Any(), 0).
		Return(nil, domain.WalkStop(""), fmt.Errorf("fetch page at offset 5: %w", domain.ErrTransport))

	report, err := s.harvester.Synchronize(s.ctx, s.account, iv("2024-01-15", "2024-03-01"))

	s.ErrorIs(err, domain.ErrTransport)
	s.Equal(domain.PhaseFailed, report.Phase)
	s.ErrorIs(report.Err, domain.ErrTransport)
	s.True(iv("2024-01-01", "2024-02-01").Equal(report.CoverageAfter))
}

func (s *HarvesterTestSuite) TestSynchronize_DisjointReplacesCoverage() {
	s.expectState(iv("2024-01-01", "2024-01-10"), item("x", "2024-01-05"))
	s.fetcher.EXPECT().
		Fetch(s.ctx, "MzA1", iv("2024-03-01", "2024-03-05"), 0).
		Return([]domain.ListingItem{item("y", "2024-03-02")}, domain.WalkPassedBegin, nil)
	s.store.EXPECT().Save(s.ctx, gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, state domain.CoverageState, table *domain.ItemTable) error {
			s.True(iv("2024-03-01", "2024-03-05").Equal(state.Covered))
			s.Equal(2, table.Len())
			return nil
		},
	)

	report, err := s.harvester.Synchronize(s.ctx, s.account, iv("2024-03-01", "2024-03-05"))

	s.NoError(err)
	s.True(iv("2024-03-01", "2024-03-05").Equal(report.CoverageAfter))
}

func (s *HarvesterTestSuite) TestSynchronize_DuplicatesNotAdded() {
	s.expectState(iv("2024-01-01", "2024-02-01"), item("a", "2024-01-20"))
	s.fetcher.EXPECT().
		Fetch(s.ctx, "MzA1", gomock.Any(), 0).
		Return([]domain.ListingItem{item("a", "2024-01-20"), item("b", "2024-02-10")}, domain.WalkPassedBegin, nil)
	s.store.EXPECT().Save(s.ctx, gomock.Any(), gomock.Any()).Return(nil)

	report, err := s.harvester.Synchronize(s.ctx, s.account, iv("2024-01-15", "2024-03-01"))

	s.NoError(err)
	s.Equal(2, report.Discovered)
	s.Equal(1, report.Added)
	s.Equal(2, report.Table.Len())
}

func (s *HarvesterTestSuite) TestSynchronize_SaveErrorFails() {
	s.expectState(domain.Interval{})
	s.fetcher.EXPECT().Fetch(s.ctx, "MzA1", gomock.Any(), 0).Return([]domain.ListingItem{item("a", "2024-01-20")}, domain.WalkPassedBegin, nil)
	s.store.EXPECT().Save(s.ctx, gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

	report, err := s.harvester.Synchronize(s.ctx, s.account, iv("2024-01-15", "2024-03-01"))

	s.Error(err)
	s.Equal(domain.PhaseFailed, report.Phase)
	s.True(report.CoverageAfter.IsZero())
}

func (s *HarvesterTestSuite) TestSynchronize_InvalidRequest() {
	report, err := s.harvester.Synchronize(s.ctx, s.account, domain.Interval{Begin: day("2024-03-01"), End: day("2024-01-01")})

	s.ErrorIs(err, domain.ErrInvalidInterval)
	s.Equal(domain.PhaseFailed, report.Phase)
}

func (s *HarvesterTestSuite) TestSynchronizeAll_ContinuesAfterFailure() {
	other := domain.Account{ID: "MzB3", Name: "Rust Daily"}

	s.expectState(domain.Interval{})
	s.fetcher.EXPECT().Fetch(s.ctx, "MzA1", gomock.Any(), 0).Return(nil, domain.WalkStop(""), domain.ErrTransport)

	s.store.EXPECT().LoadCoverage(s.ctx, "Rust Daily").Return(domain.CoverageState{Source: "Rust Daily"}, nil)
	s.store.EXPECT().LoadItems(s.ctx, "Rust Daily").Return(domain.NewItemTable(), nil)
	s.fetcher.EXPECT().Fetch(s.ctx, "MzB3", gomock.Any(), 0).Return([]domain.ListingItem{item("r", "2024-01-20")}, domain.WalkPassedBegin, nil)
	s.store.EXPECT().Save(s.ctx, gomock.Any(), gomock.Any()).Return(nil)

	reports, err := s.harvester.SynchronizeAll(s.ctx, []domain.Account{s.account, other}, iv("2024-01-15", "2024-03-01"))

	s.NoError(err)
	s.Require().Len(reports, 2)
	s.Error(reports[0].Err)
	s.NoError(reports[1].Err)
}

func (s *HarvesterTestSuite) TestSynchronizeAll_AuthErrorAborts() {
	other := domain.Account{ID: "MzB3", Name: "Rust Daily"}

	s.expectState(domain.Interval{})
	s.fetcher.EXPECT().Fetch(s.ctx, "MzA1", gomock.Any(), 0).Return(nil, domain.WalkStop(""), domain.ErrAuth)

	reports, err := s.harvester.SynchronizeAll(s.ctx, []domain.Account{s.account, other}, iv("2024-01-15", "2024-03-01"))

	s.ErrorIs(err, domain.ErrAuth)
	s.Len(reports, 1)
}

func (s *HarvesterTestSuite) TestResolveSources() {
	s.accounts.EXPECT().LoadAccounts(s.ctx).Return(map[string]string{"Go Weekly": "MzA1"}, nil)
	s.directory.EXPECT().SearchAccount(s.ctx, "Rust Daily").Return(domain.Account{ID: "MzB3", Name: "Rust Daily"}, nil)
	s.directory.EXPECT().SearchAccount(s.ctx, "Nobody").Return(domain.Account{}, domain.ErrNotFound)
	s.accounts.EXPECT().SaveAccounts(s.ctx, map[string]string{"Go Weekly": "MzA1", "Rust Daily": "MzB3"}).Return(nil)

	accounts, err := s.harvester.ResolveSources(s.ctx, []string{"Go Weekly", "Rust Daily", "Nobody"})

	s.NoError(err)
	s.Equal([]domain.Account{
		{ID: "MzA1", Name: "Go Weekly"},
		{ID: "MzB3", Name: "Rust Daily"},
	}, accounts)
}

func (s *HarvesterTestSuite) TestResolveSources_AllCached() {
	s.accounts.EXPECT().LoadAccounts(s.ctx).Return(map[string]string{"Go Weekly": "MzA1"}, nil)

	accounts, err := s.harvester.ResolveSources(s.ctx, []string{"Go Weekly"})

	s.NoError(err)
	s.Equal([]domain.Account{s.account}, accounts)
}

func (s *HarvesterTestSuite) TestResolveSources_NoNamesUsesCache() {
	s.accounts.EXPECT().LoadAccounts(s.ctx).Return(map[string]string{"Rust Daily": "MzB3", "Go Weekly": "MzA1"}, nil)

	accounts, err := s.harvester.ResolveSources(s.ctx, nil)

	s.NoError(err)
	s.Equal([]domain.Account{
		{ID: "MzA1", Name: "Go Weekly"},
		{ID: "MzB3", Name: "Rust Daily"},
	}, accounts)
}

func (s *HarvesterTestSuite) TestResolveSources_NoNamesEmptyCache() {
	s.accounts.EXPECT().LoadAccounts(s.ctx).Return(map[string]string{}, nil)

	_, err := s.harvester.ResolveSources(s.ctx, nil)

	s.ErrorIs(err, domain.ErrNoSources)
}

func (s *HarvesterTestSuite) TestResolveSources_AuthError() {
	s.accounts.EXPECT().LoadAccounts(s.ctx).Return(nil, nil)
	s.directory.EXPECT().SearchAccount(s.ctx, "Go Weekly").Return(domain.Account{}, domain.ErrAuth)

	_, err := s.harvester.ResolveSources(s.ctx, []string{"Go Weekly"})

	s.ErrorIs(err, domain.ErrAuth)
}

func (s *HarvesterTestSuite) TestTasks_Destinations() {
	it := item("a", "2024-01-20")
	it.Source = "Go/Weekly"
	it.Title = `What's new: Go 1.22?`
	it.Digest = "short"

	tasks := s.harvester.Tasks([]domain.ListingItem{it}, "/out")

	s.Require().Len(tasks, 1)
	task := tasks[0]
	s.Equal(filepath.Join("/out", "Go_Weekly", "What's new_ Go 1.22_.md"), task.Destination)
	s.Equal(3, task.MaxRetries)
	s.Equal(30*time.Second, task.Timeout)
	s.EqualValues(3072, task.MinSizeBytes)
	s.Equal(domain.Meta{
		Date:    "2024-01-20 10:00:00",
		Link:    it.ContentURL,
		Account: "Go/Weekly",
		Digest:  "short",
	}, task.Meta)
}

func (s *HarvesterTestSuite) TestMaterialize_FiltersAndPublishes() {
	inside := item("in", "2024-02-10")
	inside.Source = "Go Weekly"
	outside := item("out", "2024-04-01")
	outside.Source = "Go Weekly"
	window := iv("2024-02-01", "2024-03-01")

	written := domain.RetrievalResult{Status: domain.StatusSucceeded, Task: domain.RetrievalTask{ItemID: "in"}}
	s.retriever.EXPECT().Run(s.ctx, gomock.Any(), 3).DoAndReturn(
		func(_ context.Context, tasks []domain.RetrievalTask, _ int) domain.RetrievalSummary {
			s.Require().Len(tasks, 1)
			s.Equal("in", tasks[0].ItemID)
			return domain.RetrievalSummary{Total: 1, Succeeded: 1, Fetched: 1, Written: []domain.RetrievalResult{written}}
		},
	)
	s.publisher.EXPECT().PublishMaterialized(s.ctx, written).Return(nil)

	summary := s.harvester.Materialize(s.ctx, []domain.ListingItem{inside, outside}, "/out", &window)

	s.Equal(1, summary.Succeeded)
	s.Equal(1, summary.Published)
}

func (s *HarvesterTestSuite) TestMaterialize_PublishErrorIsTallied() {
	written := domain.RetrievalResult{Status: domain.StatusSucceeded}
	s.retriever.EXPECT().Run(s.ctx, gomock.Any(), 3).Return(domain.RetrievalSummary{
		Total: 1, Succeeded: 1, Fetched: 1, Written: []domain.RetrievalResult{written},
	})
	s.publisher.EXPECT().PublishMaterialized(s.ctx, written).Return(errors.New("channel closed"))

	summary := s.harvester.Materialize(s.ctx, []domain.ListingItem{item("a", "2024-01-01")}, "/out", nil)

	s.Equal(1, summary.Succeeded)
	s.Zero(summary.Published)
}

func (s *HarvesterTestSuite) TestMaterializeSources_NoNamesUsesStoredSources() {
	s.store.EXPECT().Sources(s.ctx).Return([]string{"Go Weekly"}, nil)
	s.store.EXPECT().LoadItems(s.ctx, "Go Weekly").Return(domain.NewItemTable(item("a", "2024-01-20")), nil)
	s.retriever.EXPECT().Run(s.ctx, gomock.Any(), 3).DoAndReturn(
		func(_ context.Context, tasks []domain.RetrievalTask, _ int) domain.RetrievalSummary {
			s.Len(tasks, 1)
			return domain.RetrievalSummary{Total: 1, Succeeded: 1}
		},
	)

	summary, err := s.harvester.MaterializeSources(s.ctx, nil, nil)

	s.NoError(err)
	s.Equal(1, summary.Succeeded)
}

func (s *HarvesterTestSuite) TestMaterializeSources_NothingStored() {
	s.store.EXPECT().Sources(s.ctx).Return(nil, nil)

	_, err := s.harvester.MaterializeSources(s.ctx, nil, nil)

	s.ErrorIs(err, domain.ErrNoSources)
}

func (s *HarvesterTestSuite) TestRun_SynchronizesAndMaterializes() {
	s.accounts.EXPECT().LoadAccounts(s.ctx).Return(map[string]string{"Go Weekly": "MzA1"}, nil)
	s.expectState(domain.Interval{})
	s.fetcher.EXPECT().Fetch(s.ctx, "MzA1", iv("2024-02-01", "2024-03-01"), 0).Return([]domain.ListingItem{
		item("a", "2024-02-10"),
		item("old", "2024-01-20"),
	}, domain.WalkPassedBegin, nil)
	s.store.EXPECT().Save(s.ctx, gomock.Any(), gomock.Any()).Return(nil)
	s.retriever.EXPECT().Run(s.ctx, gomock.Any(), 3).DoAndReturn(
		func(_ context.Context, tasks []domain.RetrievalTask, _ int) domain.RetrievalSummary {
			s.Require().Len(tasks, 1)
			s.Equal(filepath.Join("/out", "Go Weekly", "Title a.md"), tasks[0].Destination)
			return domain.RetrievalSummary{Total: 1, Succeeded: 1}
		},
	)

	report, err := s.harvester.Run(s.ctx, []string{"Go Weekly"}, iv("2024-02-01", "2024-03-01"))

	s.NoError(err)
	s.Len(report.Syncs, 1)
	s.Empty(report.Failed())
	s.Equal(1, report.Retrieval.Succeeded)
}

func (s *HarvesterTestSuite) TestRunOnce_UsesLookbackWindow() {
	s.harvester.opts.Sources = []string{"Go Weekly"}
	s.harvester.opts.LookbackDays = 7
	s.harvester.now = func() time.Time { return time.Date(2024, 3, 10, 15, 4, 5, 0, time.UTC) }

	s.accounts.EXPECT().LoadAccounts(s.ctx).Return(map[string]string{"Go Weekly": "MzA1"}, nil)
	s.expectState(iv("2024-03-01", "2024-03-09"))
	s.fetcher.EXPECT().Fetch(s.ctx, "MzA1", iv("2024-03-09", "2024-03-10"), 0).Return(nil, domain.WalkExhausted, nil)
	s.retriever.EXPECT().Run(s.ctx, gomock.Any(), 3).Return(domain.RetrievalSummary{})

	report, err := s.harvester.RunOnce(s.ctx)

	s.NoError(err)
	s.True(iv("2024-03-03", "2024-03-10").Equal(report.Requested))
}

func (s *HarvesterTestSuite) TestStatus() {
	s.store.EXPECT().Sources(s.ctx).Return([]string{"Go Weekly"}, nil)
	s.expectState(iv("2024-01-01", "2024-02-01"), item("a", "2024-01-20"), item("b", "2024-01-05"))

	statuses, err := s.harvester.Status(s.ctx)

	s.NoError(err)
	s.Require().Len(statuses, 1)
	s.Equal(2, statuses[0].Items)
	s.Equal(day("2024-01-20").Add(10*time.Hour), statuses[0].Newest)
	s.Equal(day("2024-01-05").Add(10*time.Hour), statuses[0].Oldest)
}

func (s *HarvesterTestSuite) TestReset() {
	s.store.EXPECT().Reset(s.ctx, "Go Weekly").Return(nil)
	s.store.EXPECT().Reset(s.ctx, "Rust Daily").Return(errors.New("locked"))

	err := s.harvester.Reset(s.ctx, []string{"Go Weekly", "Rust Daily"})

	s.ErrorContains(err, "Rust Daily")
}
