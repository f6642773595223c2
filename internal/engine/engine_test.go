package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramonehamilton/cardvault/internal/cards/importer"
	"github.com/ramonehamilton/cardvault/internal/cards/mtgapi"
	"github.com/ramonehamilton/cardvault/internal/cards/query"
	"github.com/ramonehamilton/cardvault/internal/config"
	"github.com/ramonehamilton/cardvault/internal/storage"
	"github.com/ramonehamilton/cardvault/internal/storage/models"
)

// fakeRemote serves canned search results.
type fakeRemote struct {
	cards   []*models.Card
	sets    []*models.Set
	err     error
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (f *fakeRemote) SearchCards(ctx context.Context, term string, filters mtgapi.SearchFilters) ([]*models.Card, error) {
	f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.cards, nil
}

func (f *fakeRemote) GetSets(ctx context.Context) ([]*models.Set, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sets, nil
}

func (f *fakeRemote) FetchBulk(ctx context.Context, url string) (io.ReadCloser, error) {
	return nil, &mtgapi.NotFoundError{URL: url}
}

func setupEngine(t *testing.T, remote Remote, search config.SearchConfig) *Engine {
	t.Helper()

	dbConfig := storage.DefaultConfig(filepath.Join(t.TempDir(), "vault.db"))
	dbConfig.AutoMigrate = true
	db, err := storage.Open(dbConfig)
	require.NoError(t, err)

	cfg := Config{DB: db, Search: search, Import: importer.Options{BatchSize: 2}}
	if remote != nil {
		cfg.Remote = remote
	}
	e, err := New(cfg)
	require.NoError(t, err)
	e.encryption = func(password string) *storage.EncryptionConfig {
		return &storage.EncryptionConfig{Password: password, Argon2Time: 1, Argon2Memory: 1024, Argon2Threads: 1}
	}
	t.Cleanup(func() { _ = e.Close() })

	return e
}

func localSearch() config.SearchConfig {
	return config.SearchConfig{PreferLocal: true, ResultLimit: 50}
}

func card(id int, name, rarity, set string, cardColors ...string) *models.Card {
	return &models.Card{
		MultiverseID: &id,
		Name:         name,
		Rarity:       &rarity,
		SetCode:      &set,
		Colors:       cardColors,
	}
}

func insert(t *testing.T, e *Engine, cards ...*models.Card) {
	t.Helper()
	res, err := e.cards.InsertCards(context.Background(), cards)
	require.NoError(t, err)
	require.Equal(t, len(cards), res.Inserted)
}

func TestNew_RequiresDB(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestEngine_UntaggedCards(t *testing.T) {
	e := setupEngine(t, nil, localSearch())
	ctx := context.Background()
	insert(t, e, card(1, "Shock", "common", "M19"), card(2, "Opt", "common", "XLN"), card(3, "Duress", "common", "M19"))

	for _, id := range []int{1, 2, 3} {
		require.NoError(t, e.AddToCollection(ctx, id, ""))
	}
	require.NoError(t, e.Tags().Add(ctx, "A", 1))

	untagged := e.UntaggedCards(ctx)
	assert.Equal(t, []int{3, 2}, untagged.IDs(), "sorted by name")
}

func TestEngine_AddToCollectionWithTag(t *testing.T) {
	e := setupEngine(t, nil, localSearch())
	ctx := context.Background()
	insert(t, e, card(1, "Shock", "common", "M19", "R"))

	require.NoError(t, e.AddToCollection(ctx, 1, "Burn"))
	require.NoError(t, e.AddToCollection(ctx, 1, "Burn"))

	assert.Equal(t, 1, e.CollectionSize(ctx))
	assert.Equal(t, []string{"Burn"}, e.Tags().ForCard(ctx, 1))
	assert.Empty(t, e.UntaggedCards(ctx).IDs())

	require.NoError(t, e.RemoveFromCollection(ctx, 1))
	assert.False(t, e.InCollection(ctx, 1))
	assert.Empty(t, e.Tags().ForCard(ctx, 1))
	assert.Equal(t, []string{"Burn"}, e.Tags().Names(ctx), "the tag itself survives")
}

func TestEngine_CardStatus(t *testing.T) {
	e := setupEngine(t, nil, localSearch())
	ctx := context.Background()

	require.NoError(t, e.AddToCollection(ctx, 1, ""))
	require.NoError(t, e.WantLists().Add(ctx, "Wants", 1))
	require.NoError(t, e.WantLists().Add(ctx, "Wants", 2))
	require.NoError(t, e.WantLists().Add(ctx, "More", 3))

	assert.Equal(t, Owned, e.CardStatus(ctx, 1))
	assert.Equal(t, Wanted, e.CardStatus(ctx, 2))
	assert.Equal(t, Unowned, e.CardStatus(ctx, 4))
	assert.Equal(t, "wanted", Wanted.String())
	assert.Equal(t, map[int]struct{}{1: {}, 2: {}, 3: {}}, e.WantedCardIDs(ctx))
}

func TestGroups_Lifecycle(t *testing.T) {
	e := setupEngine(t, nil, localSearch())
	ctx := context.Background()
	insert(t, e, card(1, "Lightning Bolt", "common", "M10", "R"))

	groups := e.WantLists()
	require.NoError(t, groups.Create(ctx, "Foo"))
	assert.ErrorIs(t, groups.Create(ctx, " Foo "), storage.ErrGroupExists)
	assert.Error(t, groups.Create(ctx, "  "))

	require.NoError(t, groups.Add(ctx, "Foo", 1))
	assert.True(t, groups.Get(ctx, "Foo").Contains(1))

	require.NoError(t, groups.Rename(ctx, "Foo", "Bar"))
	all := groups.List(ctx)
	assert.NotContains(t, all, "Foo")
	assert.Equal(t, []int{1}, all["Bar"].IDs())

	require.NoError(t, groups.Remove(ctx, "Bar", 1))
	assert.Zero(t, groups.Get(ctx, "Bar").Len())

	require.NoError(t, groups.Delete(ctx, "Bar"))
	assert.Empty(t, groups.List(ctx))
	assert.Zero(t, groups.Get(ctx, "Bar").Len())

	loaded, err := e.LoadCard(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Lightning Bolt", loaded.Name)
}

func TestGroups_NamesAreTrimmedEverywhere(t *testing.T) {
	e := setupEngine(t, nil, localSearch())
	ctx := context.Background()
	tags := e.Tags()

	require.NoError(t, tags.Create(ctx, " Foo "))
	require.NoError(t, tags.Add(ctx, "Foo ", 1))
	require.NoError(t, tags.Add(ctx, " Foo", 2))
	assert.Equal(t, []string{"Foo"}, tags.Names(ctx))

	require.NoError(t, tags.Remove(ctx, "  Foo", 2))
	require.NoError(t, tags.Rename(ctx, " Foo ", " Bar "))
	assert.Equal(t, []string{"Bar"}, tags.Names(ctx))
	assert.Equal(t, []string{"Bar"}, tags.ForCard(ctx, 1))
	assert.Empty(t, tags.ForCard(ctx, 2))

	require.NoError(t, tags.Delete(ctx, " Bar "))
	assert.Empty(t, tags.Names(ctx))

	assert.Error(t, tags.Delete(ctx, "   "))
	assert.Error(t, tags.Remove(ctx, "", 1))
}

func TestEngine_SearchLocal(t *testing.T) {
	e := setupEngine(t, nil, localSearch())
	ctx := context.Background()

	cards := make([]*models.Card, 0, 60)
	for i := 1; i <= 60; i++ {
		cards = append(cards, card(i, fmt.Sprintf("Goblin %02d", i), "common", "M19", "R"))
	}
	insert(t, e, cards...)

	assert.Len(t, e.SearchByName(ctx, "goblin"), 50)

	e.ApplySearchConfig(config.SearchConfig{PreferLocal: true, ResultLimit: 10})
	results, err := e.Search(ctx, query.Filter{NameTerm: "goblin", Colors: []string{"red"}})
	require.NoError(t, err)
	assert.Len(t, results, 10)

	results, err = e.Search(ctx, query.Filter{NameTerm: "goblin", Colors: []string{"U"}})
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = e.Search(ctx, query.Filter{Rarity: "legendary"})
	assert.ErrorIs(t, err, query.ErrMalformedFilter)

	stats := e.Stats()
	assert.EqualValues(t, 3, stats.LocalSearches)
	assert.EqualValues(t, 1, stats.MalformedFilters)
}

func TestEngine_SearchHidesDuplicates(t *testing.T) {
	e := setupEngine(t, nil, config.SearchConfig{PreferLocal: true, ResultLimit: 50, HideDuplicates: true})
	ctx := context.Background()
	insert(t, e,
		card(1, "Bolt", "common", "LEA", "R"),
		card(2, "Bolt", "common", "M10", "R"),
		card(3, "Shock", "common", "M19", "R"))

	results, err := e.Search(ctx, query.Filter{Colors: []string{"R"}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Shock", results[0].Name)
	assert.Equal(t, 2, results[1].ID())
}

func TestEngine_SearchSortsByRarity(t *testing.T) {
	e := setupEngine(t, nil, config.SearchConfig{PreferLocal: true, ResultLimit: 50, SortByRarity: true})
	ctx := context.Background()
	insert(t, e,
		card(1, "Shivan Dragon", "Rare", "LEA", "R"),
		card(2, "Goblin Guide", "common", "ZEN", "R"),
		card(3, "Glorybringer", "Mythic Rare", "AKH", "R"),
		card(4, "Gift of Flame", "special", "PRM", "R"),
		card(5, "Goblin Arsonist", "Common", "M12", "R"))

	results, err := e.Search(ctx, query.Filter{Colors: []string{"R"}})
	require.NoError(t, err)

	ids := make([]int, 0, len(results))
	for _, c := range results {
		ids = append(ids, c.ID())
	}
	assert.Equal(t, []int{4, 2, 5, 1, 3}, ids, "special, common, rare, mythic rare; ties keep store order")

	e.ApplySearchConfig(config.SearchConfig{PreferLocal: true, ResultLimit: 50})
	results, err = e.Search(ctx, query.Filter{Colors: []string{"R"}})
	require.NoError(t, err)
	assert.Equal(t, 1, results[0].ID(), "store order without rarity sort")
}

func TestEngine_SearchRemoteCachesResults(t *testing.T) {
	remote := &fakeRemote{cards: []*models.Card{
		card(10, "Counterspell", "uncommon", "ICE", "U"),
		card(11, "Counterspell", "common", "TMP", "U"),
	}}
	e := setupEngine(t, remote, config.SearchConfig{ResultLimit: 50, HideDuplicates: true, NewestFirst: true})
	ctx := context.Background()

	results, err := e.Search(ctx, query.Filter{NameTerm: "counterspell", Rarity: "any"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 10, results[0].ID())

	cached, err := e.LoadCard(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, "Counterspell", cached.Name)

	// Added remote cards resolve when the library is listed.
	require.NoError(t, e.AddToCollection(ctx, 11, ""))
	assert.Equal(t, []int{11}, e.ListCollection(ctx).IDs())
}

func TestEngine_SearchRemoteFallsBackToLocal(t *testing.T) {
	remote := &fakeRemote{err: errors.New("connection refused")}
	e := setupEngine(t, remote, config.SearchConfig{ResultLimit: 50})
	ctx := context.Background()
	insert(t, e, card(1, "Opt", "common", "XLN", "U"))

	results, err := e.Search(ctx, query.Filter{NameTerm: "opt"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Opt", results[0].Name)
	assert.EqualValues(t, 1, remote.calls.Load())
	assert.EqualValues(t, 1, e.Stats().RemoteFailures)
}

func TestEngine_SearchRemoteSharesInFlightRequests(t *testing.T) {
	remote := &fakeRemote{
		cards:   []*models.Card{card(1, "Opt", "common", "XLN", "U")},
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	e := setupEngine(t, remote, config.SearchConfig{ResultLimit: 50})
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([][]*models.Card, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = e.Search(ctx, query.Filter{NameTerm: "opt"})
	}()
	<-remote.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = e.Search(ctx, query.Filter{NameTerm: "opt"})
	}()
	time.Sleep(50 * time.Millisecond)
	close(remote.release)
	wg.Wait()

	assert.EqualValues(t, 1, remote.calls.Load())
	assert.Len(t, results[0], 1)
	assert.Len(t, results[1], 1)

	stats := e.Stats()
	assert.EqualValues(t, 2, stats.RemoteSearches)
	assert.EqualValues(t, 2, stats.SharedRequests, "both callers see a shared result")
}

func TestEngine_SearchRemoteSurvivesFirstCallerCancel(t *testing.T) {
	remote := &fakeRemote{
		cards:   []*models.Card{card(20, "Opt", "common", "DOM", "U")},
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	e := setupEngine(t, remote, config.SearchConfig{ResultLimit: 50})
	insert(t, e, card(1, "Opt", "common", "XLN", "U"))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstDone := make(chan []*models.Card, 1)
	go func() {
		cards, _ := e.Search(firstCtx, query.Filter{NameTerm: "opt"})
		firstDone <- cards
	}()
	<-remote.entered

	secondDone := make(chan []*models.Card, 1)
	go func() {
		cards, err := e.Search(context.Background(), query.Filter{NameTerm: "opt"})
		assert.NoError(t, err)
		secondDone <- cards
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	select {
	case cards := <-firstDone:
		assert.Empty(t, cards)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(remote.release)
	select {
	case cards := <-secondDone:
		require.Len(t, cards, 1)
		assert.Equal(t, 20, cards[0].ID(), "live caller gets the remote result")
	case <-time.After(5 * time.Second):
		t.Fatal("live caller did not return")
	}
	assert.EqualValues(t, 1, remote.calls.Load())
}

func TestEngine_SearchRemoteErrorAfterCancelFallsBack(t *testing.T) {
	remote := &fakeRemote{
		err:     errors.New("service unavailable"),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	e := setupEngine(t, remote, config.SearchConfig{ResultLimit: 50})
	insert(t, e, card(1, "Opt", "common", "XLN", "U"))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	go func() { _, _ = e.Search(firstCtx, query.Filter{NameTerm: "opt"}) }()
	<-remote.entered

	secondDone := make(chan []*models.Card, 1)
	go func() {
		cards, _ := e.Search(context.Background(), query.Filter{NameTerm: "opt"})
		secondDone <- cards
	}()
	time.Sleep(50 * time.Millisecond)
	cancelFirst()
	close(remote.release)

	select {
	case cards := <-secondDone:
		require.Len(t, cards, 1)
		assert.Equal(t, 1, cards[0].ID(), "falls back to the local store")
	case <-time.After(5 * time.Second):
		t.Fatal("live caller did not return")
	}
}

func TestEngine_LoadCardNotFound(t *testing.T) {
	e := setupEngine(t, nil, localSearch())

	_, err := e.LoadCard(context.Background(), 404)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEngine_ReadsDegradeWhenStorageFails(t *testing.T) {
	e := setupEngine(t, nil, localSearch())
	ctx := context.Background()
	require.NoError(t, e.db.Close())

	results, err := e.Search(ctx, query.Filter{NameTerm: "bolt"})
	assert.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, e.ListCollection(ctx).Len())
	assert.Empty(t, e.Tags().List(ctx))
	assert.Empty(t, e.ListSets(ctx))
	assert.Zero(t, e.CardCount(ctx))

	assert.ErrorIs(t, e.AddToCollection(ctx, 1, ""), storage.ErrStorageUnavailable)
}

func TestEngine_ExportImportLibrary(t *testing.T) {
	tests := []struct {
		name     string
		password string
	}{
		{name: "plain"},
		{name: "encrypted", password: "hunter2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := setupEngine(t, nil, localSearch())
			ctx := context.Background()
			require.NoError(t, src.AddToCollection(ctx, 1, "Burn"))
			require.NoError(t, src.AddToCollection(ctx, 2, ""))
			require.NoError(t, src.WantLists().Create(ctx, "Someday"))
			require.NoError(t, src.WantLists().Add(ctx, "Next", 3))

			var buf bytes.Buffer
			require.NoError(t, src.ExportLibrary(ctx, &buf, tt.password))
			assert.Equal(t, tt.password != "", storage.IsSealed(buf.Bytes()))

			dst := setupEngine(t, nil, localSearch())
			require.NoError(t, dst.AddToCollection(ctx, 99, "Old"))
			require.NoError(t, dst.ImportLibrary(ctx, bytes.NewReader(buf.Bytes()), tt.password))

			snapshot, err := dst.library.Snapshot(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []int{1, 2}, snapshot.Library)
			assert.Equal(t, map[string][]int{"Burn": {1}}, snapshot.Tags)
			assert.Equal(t, map[string][]int{"Next": {3}, "Someday": {}}, snapshot.WantLists)
		})
	}
}

func TestEngine_ImportLibraryErrors(t *testing.T) {
	e := setupEngine(t, nil, localSearch())
	ctx := context.Background()
	require.NoError(t, e.AddToCollection(ctx, 7, ""))

	var sealed bytes.Buffer
	require.NoError(t, e.ExportLibrary(ctx, &sealed, "secret"))

	assert.ErrorIs(t, e.ImportLibrary(ctx, bytes.NewReader(sealed.Bytes()), ""), ErrPasswordRequired)
	assert.Error(t, e.ImportLibrary(ctx, bytes.NewReader(sealed.Bytes()), "wrong"))
	assert.Error(t, e.ImportLibrary(ctx, strings.NewReader("not json"), ""))

	assert.True(t, e.InCollection(ctx, 7), "failed imports leave user data alone")
}

func TestEngine_ClearUserDataKeepsCards(t *testing.T) {
	e := setupEngine(t, nil, localSearch())
	ctx := context.Background()
	insert(t, e, card(1, "Shock", "common", "M19", "R"))
	require.NoError(t, e.AddToCollection(ctx, 1, "Burn"))
	require.NoError(t, e.WantLists().Add(ctx, "W", 1))

	require.NoError(t, e.ClearUserData(ctx))
	assert.Zero(t, e.CollectionSize(ctx))
	assert.Empty(t, e.Tags().Names(ctx))
	assert.Empty(t, e.WantLists().Names(ctx))
	assert.Equal(t, 1, e.CardCount(ctx))

	require.NoError(t, e.ClearCardData(ctx))
	assert.Zero(t, e.CardCount(ctx))
}

func TestEngine_ImportCards(t *testing.T) {
	e := setupEngine(t, nil, localSearch())
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "AllSets.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"M19": {"name": "Core Set 2019", "code": "M19", "cards": [
			{"name": "Shock", "multiverseid": 1, "rarity": "Common", "colors": ["Red"]},
			{"name": "Opt", "multiverseid": 2, "rarity": "Common", "colors": ["Blue"]},
			{"name": "Duress", "multiverseid": 3, "rarity": "Common", "colors": ["Black"]}
		]}
	}`), 0o644))

	done := make(chan *importer.ImportStats, 1)
	require.NoError(t, e.StartImport(ctx, path, func(stats *importer.ImportStats, err error) {
		assert.NoError(t, err)
		done <- stats
	}))

	select {
	case stats := <-done:
		assert.Equal(t, 3, stats.Inserted)
	case <-time.After(10 * time.Second):
		t.Fatal("import did not finish")
	}

	_, err := e.WaitImport()
	require.NoError(t, err)
	assert.False(t, e.ImportRunning())
	assert.Equal(t, []int{1, 2, 3}, e.ListAllCardIDs(ctx))
	assert.Len(t, e.ListSets(ctx), 1)

	stats, err := e.ImportCards(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Skipped)

	_, err = e.ImportCards(ctx, "")
	assert.Error(t, err, "no bulk URL configured")
}

func TestEngine_RefreshSets(t *testing.T) {
	remote := &fakeRemote{sets: []*models.Set{{Code: "M19", Name: "Core Set 2019"}, {Code: "XLN", Name: "Ixalan"}}}
	e := setupEngine(t, remote, localSearch())
	ctx := context.Background()

	count, err := e.RefreshSets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	set, err := e.GetSet(ctx, "xln")
	require.NoError(t, err)
	assert.Equal(t, "Ixalan", set.Name)

	_, err = setupEngine(t, nil, localSearch()).RefreshSets(ctx)
	assert.Error(t, err)
}

func TestEngine_Backup(t *testing.T) {
	e := setupEngine(t, nil, localSearch())
	ctx := context.Background()
	require.NoError(t, e.AddToCollection(ctx, 1, ""))

	dir := t.TempDir()
	path, err := e.Backup(dir)
	require.NoError(t, err)
	assert.FileExists(t, path)

	backups, err := e.ListBackups(dir)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, path, backups[0].Path)
}

func TestEngine_ApplySearchConfig(t *testing.T) {
	e := setupEngine(t, nil, localSearch())

	e.ApplySearchConfig(config.SearchConfig{PreferLocal: false, ResultLimit: 0, NewestFirst: true})
	cfg := e.SearchConfig()
	assert.False(t, cfg.PreferLocal)
	assert.Equal(t, 50, cfg.ResultLimit)
	assert.Equal(t, query.NewestFirst, searchOptions(cfg).Order)
}
