package cli

import "testing"

func TestNewRootCmdRegistersExpectedFlags(t *testing.T) {
	cmd := NewRootCmd()

	for _, name := range []string{"port", "download-dir", "name", "state-dir", "no-state", "verbose", "debug"} {
		if cmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("expected persistent flag %q to be registered", name)
		}
	}
}

func TestAddCommandsRegistersSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	AddCommands(cmd)

	want := map[string]bool{"serve": false, "send": false, "peers": false}
	for _, sub := range cmd.Commands() {
		name := sub.Name()
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected subcommand %q to be registered", name)
		}
	}
}

func TestOpenStateStoreReturnsNilWhenDisabled(t *testing.T) {
	noState = true
	defer func() { noState = false }()

	if store := openStateStore(); store != nil {
		t.Error("expected nil store when --no-state is set")
	}
}
