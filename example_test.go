// SPDX-License-Identifier: GPL-3.0-or-later

package reqflow_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/bassosimone/reqflow"
	"github.com/bassosimone/runtimex"
)

// This example shows how to fetch and decode a JSON document through a
// shared client, allowing plain http to a local registry mirror.
func Example_getJSON() {
	// Serve a fake registry document locally.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name":"left-pad","dist-tags":{"latest":"1.3.0"}}`)
	}))
	defer srv.Close()

	// Create context with overall timeout for the entire operation.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Create the config and allow plain http to the loopback address
	cfg := reqflow.NewConfig()
	cfg.UnsafeHTTPWhitelist = []string{"127.0.0.1"}

	// Create a single client for the whole process
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	client := reqflow.New(cfg, logger)
	defer client.Close()

	var doc struct {
		Name     string            `json:"name"`
		DistTags map[string]string `json:"dist-tags"`
	}
	err := client.GetJSON(ctx, srv.URL+"/left-pad", nil, &doc)
	runtimex.Assert(err == nil)
	fmt.Printf("%s@%s\n", doc.Name, doc.DistTags["latest"])

	// Output:
	// left-pad@1.3.0
}

// This example shows how per-host settings disable the network for a
// family of hosts while keeping a more specific host reachable.
func Example_networkSettings() {
	cfg := reqflow.NewConfig()
	cfg.NetworkSettings = []reqflow.SettingsRule{
		{Pattern: "*.example.com", Settings: reqflow.SettingsPatch{EnableNetwork: reqflow.Bool(false)}},
		{Pattern: "registry.example.com", Settings: reqflow.SettingsPatch{EnableNetwork: reqflow.Bool(true)}},
	}

	for _, hostname := range []string{"registry.example.com", "cdn.example.com"} {
		settings := reqflow.ResolveNetworkSettings(hostname, cfg.NetworkSettings, cfg.Defaults)
		fmt.Printf("%s: %v\n", hostname, settings.EnableNetwork)
	}

	client := reqflow.New(cfg, reqflow.DefaultSLogger())
	defer client.Close()
	_, err := client.Get(context.Background(), "https://cdn.example.com/left-pad", nil)
	fmt.Println(errors.Is(err, reqflow.ErrNetworkDisabled))
	fmt.Println(err)

	// Output:
	// registry.example.com: true
	// cdn.example.com: false
	// true
	// Request to 'https://cdn.example.com/left-pad' has been blocked because of your configuration settings
}

// This example shows how a hook can serve responses without touching
// the network, e.g. from an offline mirror.
func Example_offlineHook() {
	cfg := reqflow.NewConfig()
	cfg.Hooks = []reqflow.WrapNetworkRequestFunc{
		func(next reqflow.Func[reqflow.Unit, *reqflow.Response], info *reqflow.RequestInfo) reqflow.Func[reqflow.Unit, *reqflow.Response] {
			return reqflow.ConstFunc(&reqflow.Response{
				Body:       []byte("offline copy of " + info.Target),
				StatusCode: 200,
			})
		},
	}

	client := reqflow.New(cfg, reqflow.DefaultSLogger())
	defer client.Close()
	body := runtimex.PanicOnError1(client.Get(context.Background(), "https://registry.example.com/left-pad", nil))
	fmt.Println(string(body))

	// Output:
	// offline copy of https://registry.example.com/left-pad
}
