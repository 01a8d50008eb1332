package table

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/shared-grid/backend/internal/model"
)

const testTable = "default_table"

func newTestStore() *Store {
	return NewStore(Config{Rows: 5, Cols: 5}, nil)
}

// TestGetOrInitCreatesDefaultGrid tests that an unseen table starts as an empty 5x5 grid
func TestGetOrInitCreatesDefaultGrid(t *testing.T) {
	store := newTestStore()

	data, err := store.GetOrInit(testTable)
	if err != nil {
		t.Fatalf("GetOrInit failed: %v", err)
	}

	want, _ := model.NewGrid(5, 5).Serialize()
	if data != want {
		t.Errorf("expected %s, got %s", want, data)
	}

	grid, ok, err := store.Grid(testTable)
	if err != nil || !ok {
		t.Fatalf("expected table to exist, ok=%v err=%v", ok, err)
	}
	if len(grid) != 5 || len(grid[0]) != 5 {
		t.Errorf("expected 5x5 grid, got %dx%d", len(grid), len(grid[0]))
	}
}

// TestApplyCellUpdatesSkipsOutOfRange tests that one bad update does not abort the batch
func TestApplyCellUpdatesSkipsOutOfRange(t *testing.T) {
	store := newTestStore()

	applied, err := store.ApplyCellUpdates(testTable, []model.CellUpdate{
		{RowIndex: 1, ColIndex: 2, Value: "ok"},
		{RowIndex: 9, ColIndex: 0, Value: "bad row"},
		{RowIndex: 0, ColIndex: -1, Value: "bad col"},
		{RowIndex: 4, ColIndex: 4, Value: "corner"},
	})
	if err != nil {
		t.Fatalf("ApplyCellUpdates failed: %v", err)
	}

	if len(applied) != 2 {
		t.Fatalf("expected 2 applied updates, got %d", len(applied))
	}
	if applied[0].Value != "ok" || applied[1].Value != "corner" {
		t.Errorf("applied updates out of order: %+v", applied)
	}

	grid, _, _ := store.Grid(testTable)
	if grid[1][2] != "ok" {
		t.Errorf("expected cell (1,2) = ok, got %q", grid[1][2])
	}
	if grid[4][4] != "corner" {
		t.Errorf("expected cell (4,4) = corner, got %q", grid[4][4])
	}
}

// TestReplaceWholeIsOpaque tests that a whole-grid replace is returned verbatim
func TestReplaceWholeIsOpaque(t *testing.T) {
	store := newTestStore()
	store.Init(testTable)

	payload := `[["a","b"],["c","d"]]`
	store.ReplaceWhole(testTable, payload)

	data, err := store.GetOrInit(testTable)
	if err != nil {
		t.Fatalf("GetOrInit failed: %v", err)
	}
	if data != payload {
		t.Errorf("expected replaced payload %s, got %s", payload, data)
	}

	// Garbage is stored as-is.
	store.ReplaceWhole(testTable, "not a grid")
	data, _ = store.GetOrInit(testTable)
	if data != "not a grid" {
		t.Errorf("expected opaque payload, got %s", data)
	}
}

// TestCellUpdatesAfterReplace tests that cell updates apply on top of a replaced grid
func TestCellUpdatesAfterReplace(t *testing.T) {
	store := newTestStore()
	store.ReplaceWhole(testTable, `[["a","b","c"],["d"]]`)

	applied, err := store.ApplyCellUpdates(testTable, []model.CellUpdate{
		{RowIndex: 0, ColIndex: 2, Value: "z"},
		{RowIndex: 1, ColIndex: 1, Value: "ragged"},
	})
	if err != nil {
		t.Fatalf("ApplyCellUpdates failed: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("expected 1 applied update on ragged grid, got %d", len(applied))
	}

	data, _ := store.GetOrInit(testTable)
	if data != `[["a","b","z"],["d"]]` {
		t.Errorf("unexpected state after update: %s", data)
	}
}

// TestCellUpdatesOnInvalidBlob tests that an unparseable replaced state rejects the batch
func TestCellUpdatesOnInvalidBlob(t *testing.T) {
	store := newTestStore()
	store.ReplaceWhole(testTable, "{broken")

	_, err := store.ApplyCellUpdates(testTable, []model.CellUpdate{{RowIndex: 0, ColIndex: 0, Value: "x"}})
	if !errors.Is(err, model.ErrInvalidGrid) {
		t.Fatalf("expected ErrInvalidGrid, got %v", err)
	}

	data, _ := store.GetOrInit(testTable)
	if data != "{broken" {
		t.Errorf("state should be unchanged, got %s", data)
	}
}

// TestSerializedUnknownTable tests that status reads do not create tables
func TestSerializedUnknownTable(t *testing.T) {
	store := newTestStore()

	if _, err := store.Serialized("missing"); !errors.Is(err, model.ErrTableNotFound) {
		t.Errorf("expected ErrTableNotFound, got %v", err)
	}
	if len(store.Tables()) != 0 {
		t.Errorf("expected no tables, got %v", store.Tables())
	}
}

// TestConcurrentDisjointUpdates tests that concurrent writers to different cells lose nothing
func TestConcurrentDisjointUpdates(t *testing.T) {
	store := NewStore(Config{Rows: 20, Cols: 20}, nil)

	var wg sync.WaitGroup
	for writer := 0; writer < 20; writer++ {
		wg.Add(1)
		go func(row int) {
			defer wg.Done()
			for col := 0; col < 20; col++ {
				_, err := store.ApplyCellUpdates(testTable, []model.CellUpdate{
					{RowIndex: row, ColIndex: col, Value: fmt.Sprintf("%d-%d", row, col)},
				})
				if err != nil {
					t.Errorf("ApplyCellUpdates failed: %v", err)
				}
			}
		}(writer)
	}
	wg.Wait()

	grid, _, _ := store.Grid(testTable)
	for row := 0; row < 20; row++ {
		for col := 0; col < 20; col++ {
			want := fmt.Sprintf("%d-%d", row, col)
			if grid[row][col] != want {
				t.Errorf("cell (%d,%d): expected %s, got %q", row, col, want, grid[row][col])
			}
		}
	}
}

// TestGridReturnsCopy tests that callers cannot mutate stored state through Grid
func TestGridReturnsCopy(t *testing.T) {
	store := newTestStore()
	store.Init(testTable)

	grid, _, _ := store.Grid(testTable)
	grid[0][0] = "mutated"

	again, _, _ := store.Grid(testTable)
	if again[0][0] != "" {
		t.Errorf("stored grid was mutated through returned copy")
	}
}

// TestWithStateBlocksWrites tests that no write to the table lands while fn runs
func TestWithStateBlocksWrites(t *testing.T) {
	store := newTestStore()
	store.ApplyCellUpdates(testTable, []model.CellUpdate{{RowIndex: 0, ColIndex: 0, Value: "before"}})

	applied := make(chan struct{})
	err := store.WithState(testTable, func(state string) error {
		grid, err := model.ParseGrid(state)
		if err != nil {
			return err
		}
		if grid[0][0] != "before" {
			t.Errorf("expected state to contain earlier write, got %q", grid[0][0])
		}

		go func() {
			store.ApplyCellUpdates(testTable, []model.CellUpdate{{RowIndex: 0, ColIndex: 0, Value: "after"}})
			close(applied)
		}()

		select {
		case <-applied:
			t.Errorf("write applied while the table was held")
		case <-time.After(50 * time.Millisecond):
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithState failed: %v", err)
	}

	<-applied
	grid, _, _ := store.Grid(testTable)
	if grid[0][0] != "after" {
		t.Errorf("expected write to apply after release, got %q", grid[0][0])
	}
}

// TestWithStateReturnsFnError tests that fn's error is passed through
func TestWithStateReturnsFnError(t *testing.T) {
	store := newTestStore()
	boom := errors.New("boom")

	err := store.WithState("new_table", func(string) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("expected %v, got %v", boom, err)
	}
	if _, ok, _ := store.Grid("new_table"); !ok {
		t.Errorf("expected WithState to create the table")
	}
}

func genCellUpdate() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(-2, 7),
		gen.IntRange(-2, 7),
		gen.AlphaString(),
	).Map(func(values []interface{}) model.CellUpdate {
		return model.CellUpdate{
			RowIndex: values[0].(int),
			ColIndex: values[1].(int),
			Value:    values[2].(string),
		}
	})
}

// **Feature: shared-grid, Property 3: cell updates are idempotent and skip only invalid cells**
// *For any* batch of cell updates, applying it twice yields the same grid as applying it once,
// and exactly the in-range updates are reported as applied.
func TestCellUpdateBatchProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("applying a batch twice equals applying it once", prop.ForAll(
		func(updates []model.CellUpdate) bool {
			once := newTestStore()
			twice := newTestStore()

			if _, err := once.ApplyCellUpdates(testTable, updates); err != nil {
				return false
			}
			for i := 0; i < 2; i++ {
				if _, err := twice.ApplyCellUpdates(testTable, updates); err != nil {
					return false
				}
			}

			a, _ := once.GetOrInit(testTable)
			b, _ := twice.GetOrInit(testTable)
			return a == b
		},
		gen.SliceOf(genCellUpdate()),
	))

	properties.Property("only in-range updates are applied", prop.ForAll(
		func(updates []model.CellUpdate) bool {
			store := newTestStore()
			applied, err := store.ApplyCellUpdates(testTable, updates)
			if err != nil {
				return false
			}

			var expected []model.CellUpdate
			for _, u := range updates {
				if u.RowIndex >= 0 && u.RowIndex < 5 && u.ColIndex >= 0 && u.ColIndex < 5 {
					expected = append(expected, u)
				}
			}
			if len(applied) != len(expected) {
				return false
			}
			for i := range expected {
				if applied[i] != expected[i] {
					return false
				}
			}

			// Last write to each cell wins.
			final := model.NewGrid(5, 5)
			for _, u := range expected {
				final[u.RowIndex][u.ColIndex] = u.Value
			}
			grid, _, _ := store.Grid(testTable)
			for r := range final {
				for c := range final[r] {
					if grid[r][c] != final[r][c] {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(genCellUpdate()),
	))

	properties.TestingRun(t)
}
