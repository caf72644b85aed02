// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xdg

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

var envOrDefaultTests = []struct {
	name string
	set  map[string]string

	key, def, home string

	want   string
	wantOK bool
}{
	{
		name: "env",
		set: map[string]string{
			"test_HOME": "testdata/home",
			"testkey":   "testdata/home/dir",
		},
		key:  "testkey",
		def:  "testdata/global_dir",
		home: "test_HOME",

		want:   "testdata/home/dir",
		wantOK: true,
	},
	{
		name: "relative_default",
		set: map[string]string{
			"test_HOME": "testdata/home",
		},
		key:  "testkey",
		def:  "testdata/global_dir",
		home: "test_HOME",

		want:   "testdata/home/testdata/global_dir",
		wantOK: true,
	},
	{
		name: "no_default",
		set: map[string]string{
			"test_HOME": "testdata/home",
		},
		key:  "testkey",
		def:  "",
		home: "test_HOME",

		want:   "",
		wantOK: false,
	},
	{
		name: "no_home",
		key:  "testkey",
		def:  "testdata/global_dir",
		home: "",

		want:   "testdata/global_dir",
		wantOK: true,
	},
	{
		name: "missing_home",
		set: map[string]string{
			"test_HOME": "testdata/home",
		},
		key:  "testkey",
		def:  "testdata/global_dir",
		home: "invalid",

		want:   "",
		wantOK: false,
	},
}

func TestEnvOrDefault(t *testing.T) {
	for _, test := range envOrDefaultTests {
		t.Run(test.name, func(t *testing.T) {
			for k, v := range test.set {
				t.Setenv(k, v)
			}

			got, gotOK := envOrDefault(test.key, test.def, test.home)
			if gotOK != test.wantOK {
				t.Errorf("unexpected ok: got:%t want:%t", gotOK, test.wantOK)
			}
			if got != test.want {
				t.Errorf("unexpected result: got:%q want:%q", got, test.want)
			}
		})
	}
}

func TestFind(t *testing.T) {
	home := t.TempDir()
	global := t.TempDir()
	err := os.MkdirAll(filepath.Join(home, "local", "accel"), 0o755)
	if err != nil {
		t.Fatal(err)
	}
	err = os.MkdirAll(filepath.Join(global, "accel"), 0o755)
	if err != nil {
		t.Fatal(err)
	}
	err = os.WriteFile(filepath.Join(global, "accel", "config.toml"), nil, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("test_HOME", home)
	t.Setenv("test_GLOBAL", global)

	_, err = find("accel/config.toml", "", "local", "test_GLOBAL", "", "test_HOME", true)
	if !errors.Is(err, syscall.ENOENT) {
		t.Errorf("unexpected error for local search: got:%v want:%v", err, syscall.ENOENT)
	}
	got, err := find("accel/config.toml", "", "local", "test_GLOBAL", "", "test_HOME", false)
	if err != nil {
		t.Fatalf("unexpected error for global search: %v", err)
	}
	want := filepath.Join(global, "accel", "config.toml")
	if got != want {
		t.Errorf("unexpected path: got:%q want:%q", got, want)
	}

	err = os.WriteFile(filepath.Join(home, "local", "accel", "config.toml"), nil, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	got, err = find("accel/config.toml", "", "local", "test_GLOBAL", "", "test_HOME", true)
	if err != nil {
		t.Fatalf("unexpected error for local search: %v", err)
	}
	want = filepath.Join(home, "local", "accel", "config.toml")
	if got != want {
		t.Errorf("unexpected path: got:%q want:%q", got, want)
	}
}
