package classify

import "testing"

func replaceRegistry(t *testing.T) func() {
	t.Helper()
	prev := globalRegistry
	globalRegistry = newRegistry()
	return func() { globalRegistry = prev }
}

func TestDefaultProfilesRegistered(t *testing.T) {
	list := List()
	if len(list) != 3 {
		t.Fatalf("expected 3 default profiles, got %d", len(list))
	}
	if list[0].Class != ClassDynamic || list[1].Class != ClassStaticMedia || list[2].Class != ClassPassthrough {
		t.Fatalf("profiles must follow classification order: %+v", list)
	}

	dynamic, _ := Lookup(ClassDynamic)
	if dynamic.Strategy != StrategyNetworkFirst || dynamic.IgnoreQuery || !dynamic.Store {
		t.Fatalf("unexpected dynamic profile: %+v", dynamic)
	}
	media, _ := Lookup("STATIC-MEDIA")
	if media.Strategy != StrategyCacheFirst || !media.IgnoreQuery || !media.Store {
		t.Fatalf("unexpected media profile: %+v", media)
	}
	pass, _ := Lookup(ClassPassthrough)
	if pass.Strategy != StrategyNetworkOnly || pass.Store {
		t.Fatalf("unexpected passthrough profile: %+v", pass)
	}
}

func TestRegisterRejectsDuplicatesAndBadStrategy(t *testing.T) {
	cleanup := replaceRegistry(t)
	defer cleanup()

	if err := Register(Profile{Class: "custom", Strategy: StrategyCacheFirst}); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}
	if err := Register(Profile{Class: "custom", Strategy: StrategyCacheFirst}); err == nil {
		t.Fatalf("duplicate registration should fail")
	}
	if err := Register(Profile{Class: "other", Strategy: "stale-while-revalidate"}); err == nil {
		t.Fatalf("unknown strategy should fail")
	}
	if err := Register(Profile{Strategy: StrategyCacheFirst}); err == nil {
		t.Fatalf("empty class should fail")
	}
}

func TestResolveProfilesOverridesMediaQuery(t *testing.T) {
	exact := false
	profiles := ResolveProfiles(ProfileOptions{MediaIgnoreQuery: &exact})
	if profiles[ClassStaticMedia].IgnoreQuery {
		t.Fatalf("override should disable ignore-query for media")
	}
	if profiles[ClassDynamic].IgnoreQuery {
		t.Fatalf("dynamic must match exact keys")
	}

	defaults := ResolveProfiles(ProfileOptions{})
	if !defaults[ClassStaticMedia].IgnoreQuery {
		t.Fatalf("media should ignore query by default")
	}
	if defaults[ClassPassthrough].Store {
		t.Fatalf("passthrough must never store")
	}
}
