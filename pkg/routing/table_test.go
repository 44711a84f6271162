package routing

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/kkkqkx123/open-agent-sub001/pkg/config"
)

func testGroups() map[string]config.TaskGroupConfig {
	return map[string]config.TaskGroupConfig{
		"fast_group": {
			Echelons: map[string]config.EchelonConfig{
				"echelon1": {Models: []string{"model-a", "model-b"}, Priority: 1},
				"echelon2": {Models: []string{"model-c"}, Priority: 2},
				"echelon3": {Models: []string{"model-d"}, Priority: 3},
			},
			Fallback: config.FallbackConfig{Strategy: config.StrategyEchelonDown, MaxAttempts: 3},
		},
		"cheap_group": {
			Echelons: map[string]config.EchelonConfig{
				"only": {Models: []string{"model-e"}, Priority: 1},
			},
			Fallback: config.FallbackConfig{Strategy: config.StrategyEchelonDown, MaxAttempts: 3},
		},
	}
}

func mustTable(t *testing.T, groups map[string]config.TaskGroupConfig) *Table {
	t.Helper()
	table, err := NewTable(groups)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return table
}

func TestResolveEchelon(t *testing.T) {
	table := mustTable(t, testGroups())

	models, err := table.Resolve(MustParseReference("fast_group.echelon1"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !reflect.DeepEqual(models, []string{"model-a", "model-b"}) {
		t.Errorf("models = %v, want [model-a model-b]", models)
	}
}

func TestResolveGroupSpansEchelonsByPriority(t *testing.T) {
	table := mustTable(t, testGroups())

	models, err := table.Resolve(MustParseReference("fast_group"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []string{"model-a", "model-b", "model-c", "model-d"}
	if !reflect.DeepEqual(models, want) {
		t.Errorf("models = %v, want %v", models, want)
	}
}

func TestResolveNotFound(t *testing.T) {
	table := mustTable(t, testGroups())

	_, err := table.Resolve(GroupReference{Group: "missing"})
	if !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("expected ErrGroupNotFound, got %v", err)
	}

	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected *NotFoundError, got %T", err)
	}
	if len(nf.KnownGroups) != 2 {
		t.Errorf("KnownGroups = %v, want two entries", nf.KnownGroups)
	}

	_, err = table.Resolve(MustParseReference("fast_group.missing"))
	if !errors.Is(err, ErrEchelonNotFound) {
		t.Errorf("expected ErrEchelonNotFound, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	table := mustTable(t, testGroups())

	tests := []struct {
		ref  string
		want bool
	}{
		{"fast_group", true},
		{"fast_group.echelon1", true},
		{"fast_group.missing", false},
		{"no_such_group", false},
		{"no_such_group.echelon1", false},
	}
	for _, tt := range tests {
		if got := table.Validate(MustParseReference(tt.ref)); got != tt.want {
			t.Errorf("Validate(%q) = %v, want %v", tt.ref, got, tt.want)
		}
	}
}

func TestValidateTracksReload(t *testing.T) {
	table := mustTable(t, testGroups())

	updated := map[string]config.TaskGroupConfig{
		"fast_group": {
			Echelons: map[string]config.EchelonConfig{
				"echelon1": {Models: []string{"model-x"}, Priority: 1},
			},
			Fallback: config.FallbackConfig{Strategy: config.StrategyEchelonDown},
		},
	}
	if err := table.Reload(updated); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if !table.Validate(MustParseReference("fast_group.echelon1")) {
		t.Error("surviving echelon no longer validates")
	}
	if table.Validate(MustParseReference("fast_group.echelon2")) {
		t.Error("removed echelon still validates")
	}
	if table.Validate(MustParseReference("cheap_group")) {
		t.Error("removed group still validates")
	}
}

func TestFallbackChainEchelonDown(t *testing.T) {
	table := mustTable(t, testGroups())

	chain, err := table.FallbackChain(MustParseReference("fast_group.echelon1"))
	if err != nil {
		t.Fatalf("FallbackChain: %v", err)
	}
	want := []string{"fast_group.echelon1", "fast_group.echelon2", "fast_group.echelon3"}
	if got := refStrings(chain); !reflect.DeepEqual(got, want) {
		t.Errorf("chain = %v, want %v", got, want)
	}

	// Starting mid-group only falls further down, never back up.
	chain, err = table.FallbackChain(MustParseReference("fast_group.echelon2"))
	if err != nil {
		t.Fatalf("FallbackChain: %v", err)
	}
	want = []string{"fast_group.echelon2", "fast_group.echelon3"}
	if got := refStrings(chain); !reflect.DeepEqual(got, want) {
		t.Errorf("chain = %v, want %v", got, want)
	}
}

func TestFallbackChainGroupLevel(t *testing.T) {
	table := mustTable(t, testGroups())

	chain, err := table.FallbackChain(MustParseReference("fast_group"))
	if err != nil {
		t.Fatalf("FallbackChain: %v", err)
	}
	want := []string{"fast_group.echelon1", "fast_group.echelon2", "fast_group.echelon3"}
	if got := refStrings(chain); !reflect.DeepEqual(got, want) {
		t.Errorf("chain = %v, want %v", got, want)
	}
}

func TestFallbackChainExplicitOverride(t *testing.T) {
	groups := testGroups()
	g := groups["fast_group"]
	g.Fallback.FallbackGroups = []string{"cheap_group.only", "cheap_group"}
	groups["fast_group"] = g

	table := mustTable(t, groups)

	chain, err := table.FallbackChain(MustParseReference("fast_group.echelon1"))
	if err != nil {
		t.Fatalf("FallbackChain: %v", err)
	}
	want := []string{"fast_group.echelon1", "cheap_group.only", "cheap_group"}
	if got := refStrings(chain); !reflect.DeepEqual(got, want) {
		t.Errorf("chain = %v, want %v", got, want)
	}
}

func TestBuildRejectsDanglingFallbackChain(t *testing.T) {
	groups := testGroups()
	g := groups["fast_group"]
	g.Fallback.FallbackGroups = []string{"no_such_group"}
	groups["fast_group"] = g

	if _, err := NewTable(groups); err == nil {
		t.Error("expected error for fallback chain referencing unknown group")
	}

	g.Fallback.FallbackGroups = []string{"cheap_group.no_such_echelon"}
	groups["fast_group"] = g
	if _, err := NewTable(groups); err == nil {
		t.Error("expected error for fallback chain referencing unknown echelon")
	}
}

func TestReloadSwapsAtomically(t *testing.T) {
	table := mustTable(t, testGroups())
	if table.Generation() != 1 {
		t.Fatalf("Generation = %d, want 1", table.Generation())
	}

	updated := map[string]config.TaskGroupConfig{
		"fast_group": {
			Echelons: map[string]config.EchelonConfig{
				"echelon1": {Models: []string{"model-x"}, Priority: 1},
			},
			Fallback: config.FallbackConfig{Strategy: config.StrategyEchelonDown},
		},
	}
	if err := table.Reload(updated); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if table.Generation() != 2 {
		t.Errorf("Generation = %d, want 2", table.Generation())
	}

	models, err := table.Resolve(MustParseReference("fast_group.echelon1"))
	if err != nil {
		t.Fatalf("Resolve after reload: %v", err)
	}
	if !reflect.DeepEqual(models, []string{"model-x"}) {
		t.Errorf("models = %v, want [model-x]", models)
	}

	if _, err := table.Resolve(GroupReference{Group: "cheap_group"}); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("removed group still resolves: %v", err)
	}
}

func TestReloadFailureKeepsOldSnapshot(t *testing.T) {
	table := mustTable(t, testGroups())

	bad := map[string]config.TaskGroupConfig{
		"fast_group": {Echelons: map[string]config.EchelonConfig{}},
	}
	if err := table.Reload(bad); err == nil {
		t.Fatal("expected reload error for empty group")
	}

	if table.Generation() != 1 {
		t.Errorf("Generation = %d, want 1 after failed reload", table.Generation())
	}
	if _, err := table.Resolve(MustParseReference("fast_group.echelon1")); err != nil {
		t.Errorf("old snapshot unusable after failed reload: %v", err)
	}
}

func TestConcurrentResolveDuringReload(t *testing.T) {
	table := mustTable(t, testGroups())

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				models, err := table.Resolve(GroupReference{Group: "fast_group", Echelon: "echelon1"})
				if err != nil {
					t.Errorf("Resolve: %v", err)
					return
				}
				// Every reader must see a complete snapshot, old or new.
				if len(models) != 2 && len(models) != 1 {
					t.Errorf("unexpected model set %v", models)
					return
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		groups := testGroups()
		if i%2 == 1 {
			g := groups["fast_group"]
			g.Echelons["echelon1"] = config.EchelonConfig{Models: []string{"model-z"}, Priority: 1}
			groups["fast_group"] = g
		}
		if err := table.Reload(groups); err != nil {
			t.Fatalf("Reload: %v", err)
		}
	}
	close(stop)
	wg.Wait()

	if table.Generation() != 51 {
		t.Errorf("Generation = %d, want 51", table.Generation())
	}
}

func refStrings(refs []GroupReference) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.String()
	}
	return out
}
