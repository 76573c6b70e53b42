package banner

import (
	"fmt"

	"feedsync/pkg/config"
)

const banner = `
███████╗███████╗███████╗██████╗ ███████╗██╗   ██╗███╗   ██╗ ██████╗
██╔════╝██╔════╝██╔════╝██╔══██╗██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
█████╗  █████╗  █████╗  ██║  ██║███████╗ ╚████╔╝ ██╔██╗ ██║██║
██╔══╝  ██╔══╝  ██╔══╝  ██║  ██║╚════██║  ╚██╔╝  ██║╚██╗██║██║
██║     ███████╗███████╗██████╔╝███████║   ██║   ██║ ╚████║╚██████╗
╚═╝     ╚══════╝╚══════╝╚═════╝ ╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝
`

// PrintWithEff prints the startup banner using the effective config so the
// operator can see where each setting came from.
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dbPath := eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Storage.DBPath
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config:   %s\n", src)

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/conversations - Create a conversation (JSON: creator, members)")
	fmt.Println("POST /v1/conversations/{id}/messages - Send an item (JSON: sender, body, media_ref)")
	fmt.Println("GET  /v1/conversations/{id}/messages?limit=<n>&before=<cursor> - Page older items")
	fmt.Println("GET  /v1/conversations/{id}/stream - Live window snapshots (SSE)")

	fmt.Println("\n== Examples ===================================================")
	fmt.Println("curl -X POST 'http://<host>:<port>/v1/conversations' -d '{\"creator\":\"alice\",\"members\":[\"bob\"]}'")
	fmt.Println("curl 'http://<host>:<port>/v1/conversations?viewer=alice'")

	fmt.Println("\n== Production? =================================================")
	if eff.Config != nil && eff.Config.Server.TLS.CertFile != "" && eff.Config.Server.TLS.KeyFile != "" {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}
	if dbPath != "" {
		fmt.Printf("- DB Path: %s\n", dbPath)
	} else {
		fmt.Println("- DB Path: not set (use --db or FEEDSYNC_DB_PATH)")
	}
	if eff.Config != nil && eff.Config.Retention.Enabled {
		info := ""
		if eff.Config.Retention.Cron != "" {
			info = " (cron=" + eff.Config.Retention.Cron + ")"
		}
		fmt.Println("- Retention: enabled" + info)
	} else {
		fmt.Println("- Retention: disabled")
	}
}
