package appupdate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func swapReleaseBase(t *testing.T, url string) {
	t.Helper()
	prev := releaseAPIBase
	releaseAPIBase = url
	t.Cleanup(func() { releaseAPIBase = prev })
}

func releaseServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != releasePath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStableVersion(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"v1.2.3", "v1.2.3"},
		{"1.2.3", "v1.2.3"},
		{"v1.2.3-rc.1", ""},
		{"v1.2.3+build.7", ""},
		{"dev", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := stableVersion(tt.input); got != tt.want {
			t.Errorf("stableVersion(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCheckReportsNewerRelease(t *testing.T) {
	srv := releaseServer(t, http.StatusOK, `{"tag_name":"v1.4.0"}`)
	swapReleaseBase(t, srv.URL)

	c := NewChecker(srv.Client())
	res, err := c.Check(context.Background(), "v1.2.3")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.UpdateAvailable {
		t.Error("newer tag should report an available update")
	}
	if res.LatestVersion != "v1.4.0" || res.CurrentVersion != "v1.2.3" {
		t.Errorf("versions = %s -> %s", res.CurrentVersion, res.LatestVersion)
	}
	if res.UpgradeHint == "" {
		t.Error("result should carry an upgrade hint")
	}
}

func TestCheckEqualVersionsNoUpdate(t *testing.T) {
	srv := releaseServer(t, http.StatusOK, `{"tag_name":"v1.2.3"}`)
	swapReleaseBase(t, srv.URL)

	res, err := NewChecker(srv.Client()).Check(context.Background(), "v1.2.3")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.UpdateAvailable {
		t.Error("equal versions should not report an update")
	}
}

func TestCheckSkipsDevBuildsWithoutNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("dev build should not hit the release API")
	}))
	t.Cleanup(srv.Close)
	swapReleaseBase(t, srv.URL)

	res, err := NewChecker(srv.Client()).Check(context.Background(), "dev")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.UpdateAvailable || res.LatestVersion != "" {
		t.Errorf("dev build result = %+v, want no update and no latest", res)
	}
}

func TestCheckSurfacesHTTPErrors(t *testing.T) {
	srv := releaseServer(t, http.StatusForbidden, `{"message":"rate limited"}`)
	swapReleaseBase(t, srv.URL)

	if _, err := NewChecker(srv.Client()).Check(context.Background(), "v1.0.0"); err == nil {
		t.Fatal("non-2xx release response should error")
	}
}

func TestCheckRejectsPrereleaseTag(t *testing.T) {
	srv := releaseServer(t, http.StatusOK, `{"tag_name":"v2.0.0-beta.1"}`)
	swapReleaseBase(t, srv.URL)

	if _, err := NewChecker(srv.Client()).Check(context.Background(), "v1.0.0"); err == nil {
		t.Fatal("pre-release latest tag should error, not compare")
	}
}

func TestChannelForPath(t *testing.T) {
	tests := []struct {
		path string
		want Channel
	}{
		{"/opt/homebrew/Cellar/reqwatch/1.2.3/bin/reqwatch", ChannelHomebrew},
		{"/opt/homebrew/bin/reqwatch", ChannelHomebrew},
		{"/home/dev/go/bin/reqwatch", ChannelGoInstall},
		{"/usr/local/bin/reqwatch", ChannelScript},
		{"/tmp/build/reqwatch", ChannelUnknown},
		{"", ChannelUnknown},
	}
	for _, tt := range tests {
		if got := channelForPath(tt.path); got != tt.want {
			t.Errorf("channelForPath(%q) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestUpgradeHintPerChannel(t *testing.T) {
	if hint := upgradeHint(ChannelHomebrew); hint != "brew upgrade janekbaraniewski/tap/reqwatch" {
		t.Errorf("homebrew hint = %q", hint)
	}
	if hint := upgradeHint(ChannelGoInstall); hint == upgradeHint(ChannelUnknown) {
		t.Error("go install hint should differ from the fallback script hint")
	}
}

func TestDetectChannelUsesResolvedExecutable(t *testing.T) {
	c := NewChecker(nil)
	c.exePath = func() (string, error) { return "/usr/local/bin/reqwatch", nil }
	if got := c.detectChannel(); got != ChannelScript {
		t.Errorf("detectChannel = %s, want %s", got, ChannelScript)
	}
}
