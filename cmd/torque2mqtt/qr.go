package main

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/nugget/torque2mqtt/internal/config"
	"github.com/skip2/go-qrcode"
)

// runQR prints the URL to enter in Torque's "Webserver URL" setting, with
// a terminal QR code so it can be scanned from the phone. Without an
// explicit URL it is derived from the server section of the config.
func runQR(w io.Writer, configPath string, args []string) error {
	target := ""
	if len(args) > 0 {
		target = args[0]
	} else {
		server := config.Default().Server
		if cfg, _, err := loadConfig(configPath); err == nil {
			server = cfg.Server
		}
		target = uploadURL(server, outboundIP())
	}

	code, err := qrcode.New(target, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("encode QR code: %w", err)
	}
	fmt.Fprint(w, renderQR(code.Bitmap()))
	fmt.Fprintln(w, target)
	return nil
}

// renderQR draws a module grid with two characters per module. Dark
// modules are blank so the code scans on a dark terminal.
func renderQR(bitmap [][]bool) string {
	var b strings.Builder
	for _, row := range bitmap {
		for _, dark := range row {
			if dark {
				b.WriteString("  ")
			} else {
				b.WriteString("██")
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// uploadURL builds the Torque upload URL. A wildcard listen address is
// replaced with fallback, the host's LAN address.
func uploadURL(server config.ServerConfig, fallback string) string {
	host := server.IP
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = fallback
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(server.Port)) + "/"
}

// outboundIP returns the first non-loopback IPv4 address of this host,
// or "localhost" when there is none.
func outboundIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "localhost"
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return "localhost"
}
