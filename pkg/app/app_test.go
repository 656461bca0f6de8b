package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cliflag "k8s.io/component-base/cli/flag"
)

type pollOptions struct {
	Interval time.Duration `mapstructure:"interval"`
}

type testOptions struct {
	Name string       `mapstructure:"name"`
	Poll *pollOptions `mapstructure:"poll"`

	completed bool
}

func (o *testOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	fs := fss.FlagSet("test")
	fs.StringVar(&o.Name, "name", o.Name, "name")
	fs.DurationVar(&o.Poll.Interval, "poll.interval", o.Poll.Interval, "interval")
	return fss
}

func (o *testOptions) Complete() error {
	o.completed = true
	return nil
}

func (o *testOptions) Validate() error {
	if o.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

func newTestApp(t *testing.T, opts *testOptions, args ...string) (*App, *bool) {
	t.Helper()
	ran := false
	a := NewApp("apptest", "test app",
		WithOptions(opts),
		WithDefaultValidArgs(),
		WithRunFunc(func() error {
			ran = true
			return nil
		}),
	)
	a.Command().SetArgs(args)
	return a, &ran
}

func TestConfigFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("name: from-file\npoll:\n  interval: 3s\n"), 0o600))

	opts := &testOptions{Name: "default", Poll: &pollOptions{Interval: time.Second}}
	a, ran := newTestApp(t, opts, "--config", cfg)
	require.NoError(t, a.Command().Execute())

	assert.True(t, *ran)
	assert.True(t, opts.completed)
	assert.Equal(t, "from-file", opts.Name)
	assert.Equal(t, 3*time.Second, opts.Poll.Interval)

	t.Setenv("APPTEST_NAME", "from-env")
	opts = &testOptions{Name: "default", Poll: &pollOptions{Interval: time.Second}}
	a, _ = newTestApp(t, opts, "--config", cfg)
	require.NoError(t, a.Command().Execute())
	assert.Equal(t, "from-env", opts.Name)
}

func TestFlagsWinOverConfig(t *testing.T) {
	opts := &testOptions{Name: "default", Poll: &pollOptions{Interval: time.Second}}
	a, _ := newTestApp(t, opts, "--name", "from-flag", "--poll.interval", "250ms")
	require.NoError(t, a.Command().Execute())

	assert.Equal(t, "from-flag", opts.Name)
	assert.Equal(t, 250*time.Millisecond, opts.Poll.Interval)
}

func TestValidationErrorStopsRun(t *testing.T) {
	opts := &testOptions{Poll: &pollOptions{}}
	a, ran := newTestApp(t, opts)
	require.Error(t, a.Command().Execute())
	assert.False(t, *ran)
}

func TestPositionalArgsRejected(t *testing.T) {
	opts := &testOptions{Name: "x", Poll: &pollOptions{}}
	a, _ := newTestApp(t, opts, "extra")
	assert.Error(t, a.Command().Execute())
}
