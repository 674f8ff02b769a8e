package config

import (
	"testing"

	"go.viam.com/test"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Options{})
	test.That(t, err, test.ShouldBeNil)

	test.That(t, cfg.Domain, test.ShouldEqual, DefaultDomain)
	test.That(t, cfg.StoreURL, test.ShouldEqual, "wss://"+DefaultDomain+"/store")
	test.That(t, len(cfg.STUNServers), test.ShouldEqual, 2)
	test.That(t, cfg.STUNServers[0], test.ShouldEqual, "stun:stun1.l.google.com:19302")
	test.That(t, cfg.ListenAddr, test.ShouldEqual, DefaultListenAddr)
	test.That(t, cfg.DisplayName, test.ShouldNotEqual, "")
}

func TestLoadPrecedence(t *testing.T) {
	t.Setenv("MESHCALL_DOMAIN", "env.example.com")
	t.Setenv("MESHCALL_DISPLAY_NAME", "EnvName")
	t.Setenv("MESHCALL_STUN_SERVERS", "stun:env.example.com:3478")

	// Env beats defaults.
	cfg, err := Load(Options{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Domain, test.ShouldEqual, "env.example.com")
	test.That(t, cfg.DisplayName, test.ShouldEqual, "EnvName")
	test.That(t, cfg.STUNServers, test.ShouldResemble, []string{"stun:env.example.com:3478"})

	// Flags beat env.
	cfg, err = Load(Options{Domain: "flag.example.com", DisplayName: "FlagName"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Domain, test.ShouldEqual, "flag.example.com")
	test.That(t, cfg.StoreURL, test.ShouldEqual, "wss://flag.example.com/store")
	test.That(t, cfg.DisplayName, test.ShouldEqual, "FlagName")
}

func TestGetCallLink(t *testing.T) {
	cfg, err := Load(Options{Domain: "talk.example.com"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.GetCallLink("abc"), test.ShouldEqual, "https://talk.example.com/call/abc")
}
