package plugin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowmesh/streamcore/core"
)

type acceptAllValidator struct{}

func (acceptAllValidator) Validate(core.Metadata, core.Data) error { return nil }

type singleTargetSelector struct{ target core.PartitionTarget }

func (s *singleTargetSelector) SetTargets(targets []core.PartitionTarget) {
	if len(targets) > 0 {
		s.target = targets[0]
	}
}

func (s *singleTargetSelector) SelectTargetFor(core.Metadata) (core.PartitionTarget, error) {
	return s.target, nil
}

// TestGlobalRegistriesBuildRealCollaborators exercises the long-lived
// registration tables spec §9 calls for in place of the teacher's
// global factory registries: a host application registers named
// constructors once at init time, then builds a fresh collaborator
// instance by name wherever it constructs a Producer/Consumer.
func TestGlobalRegistriesBuildRealCollaborators(t *testing.T) {
	Validators.Register("accept-all", func() (Validator, error) {
		return acceptAllValidator{}, nil
	})
	Selectors.Register("single-target", func() (TargetSelector, error) {
		return &singleTargetSelector{}, nil
	})

	v, err := Validators.Build("accept-all")
	require.NoError(t, err)
	require.NoError(t, v.Validate(map[string]string{"k": "v"}, core.Data{}))

	sel, err := Selectors.Build("single-target")
	require.NoError(t, err)
	sel.SetTargets([]core.PartitionTarget{{Endpoint: "host", ProviderID: 7}})
	target, err := sel.SelectTargetFor(nil)
	require.NoError(t, err)
	require.Equal(t, core.PartitionTarget{Endpoint: "host", ProviderID: 7}, target)

	require.Contains(t, Validators.Names(), "accept-all")
	require.Contains(t, Selectors.Names(), "single-target")
}

type fakeValidator struct{ id string }

func (f *fakeValidator) Validate(core interface{}, data interface{}) error { return nil }

func TestRegistryRegisterAndBuild(t *testing.T) {
	t.Parallel()

	r := NewRegistry[*fakeValidator]()
	r.Register("noop", func() (*fakeValidator, error) { return &fakeValidator{id: "noop"}, nil })

	v, err := r.Build("noop")
	require.NoError(t, err)
	require.Equal(t, "noop", v.id)
}

func TestRegistryBuildUnknownName(t *testing.T) {
	t.Parallel()

	r := NewRegistry[*fakeValidator]()
	_, err := r.Build("missing")
	require.Error(t, err)
}

func TestRegistryRegisterOverwrites(t *testing.T) {
	t.Parallel()

	r := NewRegistry[int]()
	r.Register("n", func() (int, error) { return 1, nil })
	r.Register("n", func() (int, error) { return 2, nil })

	v, err := r.Build("n")
	require.NoError(t, err)
	require.Equal(t, 2, v)
}

func TestRegistryNames(t *testing.T) {
	t.Parallel()

	r := NewRegistry[int]()
	r.Register("a", func() (int, error) { return 0, nil })
	r.Register("b", func() (int, error) { return 0, nil })
	require.ElementsMatch(t, []string{"a", "b"}, r.Names())
}

func TestRegistryCtorError(t *testing.T) {
	t.Parallel()

	r := NewRegistry[int]()
	want := errors.New("ctor failed")
	r.Register("bad", func() (int, error) { return 0, want })

	_, err := r.Build("bad")
	require.ErrorIs(t, err, want)
}
