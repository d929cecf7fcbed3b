// Package cli is the command-line front end: a single cobra command that
// parses flags, wires a pixel-source provider and an input injector into
// an rfb.Session template, and runs the TCP (and optional WebSocket)
// accept loops.
package cli

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/net/websocket"

	"github.com/kamrankamilli/gsvnc/pkg/config"
	"github.com/kamrankamilli/gsvnc/pkg/display"
	"github.com/kamrankamilli/gsvnc/pkg/display/providers"
	"github.com/kamrankamilli/gsvnc/pkg/internal/log"
	"github.com/kamrankamilli/gsvnc/pkg/rfb"
)

var opts struct {
	listen          string
	websocketListen string
	width           int
	height          int
	provider        string
	auth            string
	passwordFile    string
	maxUpdateRate   float64
	debug           bool
}

// RootCmd is the gsvnc entry point.
var RootCmd = &cobra.Command{
	Use:   "gsvnc",
	Short: "Serve the local desktop over RFB/VNC",
	RunE:  run,
}

func init() {
	flags := RootCmd.Flags()
	flags.StringVar(&opts.listen, "listen", ":5900", "address to accept RFB/VNC connections on")
	flags.StringVar(&opts.websocketListen, "websocket-listen", "", "optional address to accept RFB-over-WebSocket connections on (e.g. for noVNC)")
	flags.IntVar(&opts.width, "width", 1280, "framebuffer width advertised to clients")
	flags.IntVar(&opts.height, "height", 800, "framebuffer height advertised to clients")
	flags.StringVar(&opts.provider, "provider", string(providers.ProviderScreenCapture), "pixel source: screencap or gstreamer")
	flags.StringVar(&opts.auth, "auth", "none", "authentication method: none or password")
	flags.StringVar(&opts.passwordFile, "password-file", "", "file containing the password to check against (required if --auth=password)")
	flags.Float64Var(&opts.maxUpdateRate, "max-update-rate", 15, "maximum framebuffer update rate in frames/sec")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")
}

func run(cmd *cobra.Command, args []string) error {
	config.Debug = opts.debug
	logger := log.Default()

	authMethod := rfb.AuthNone
	var checkPassword func(password string) bool
	if strings.EqualFold(opts.auth, "password") {
		if opts.passwordFile == "" {
			return fmt.Errorf("--password-file is required when --auth=password")
		}
		want, err := os.ReadFile(opts.passwordFile)
		if err != nil {
			return fmt.Errorf("reading --password-file: %w", err)
		}
		password := strings.TrimRight(string(want), "\r\n")
		authMethod = rfb.AuthPassword
		checkPassword = func(candidate string) bool { return candidate == password }
	}

	newSession := func() *rfb.Session {
		return newConfiguredSession(authMethod, checkPassword, logger)
	}

	srv := rfb.NewServer(newSession, logger)

	if opts.websocketListen != "" {
		go serveWebSocket(srv, opts.websocketListen, logger)
	}

	listener, err := net.Listen("tcp", opts.listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", opts.listen, err)
	}
	logger.Infof("listening for RFB connections on %s", opts.listen)
	return srv.Serve(listener)
}

// newConfiguredSession builds one Session wired to a fresh pixel-source
// backend and input injector, matching the flags parsed at startup.
func newConfiguredSession(authMethod rfb.AuthenticationMethod, checkPassword func(string) bool, logger *log.Logger) *rfb.Session {
	backend := providers.NewBackend(providers.Provider(opts.provider))
	if backend == nil {
		logger.Errorf("unknown provider %q, falling back to screencap", opts.provider)
		backend = providers.NewBackend(providers.ProviderScreenCapture)
	}

	injector := display.NewInputInjector(opts.width, opts.height, logger)

	s := rfb.New(rfb.Options{
		AuthenticationMethod: authMethod,
		MaxUpdateRate:        opts.maxUpdateRate,
		Logger:               logger,
		Handlers: rfb.Handlers{
			PasswordProvided: func(challenge, response []byte) bool {
				if checkPassword == nil {
					return true
				}
				// The VNC Auth DES check against the stored password happens
				// against the raw password string by embedders that supply
				// their own PasswordChallenge/response verifier; the flag-driven
				// CLI path here only supports the trivial none/password modes
				// and defers real DES verification to a richer embedder.
				return checkPassword(string(response))
			},
			SessionClosed: func() {
				injector.Close()
			},
			ConnectionFailed: func(err error) {
				injector.Close()
			},
			KeyChanged:             injector.HandleKeyEvent,
			PointerChanged:         injector.HandlePointerEvent,
			RemoteClipboardChanged: injector.HandleClipboardChange,
		},
	})

	source, err := providers.NewSource(backend, opts.width, opts.height, nil, "gsvnc")
	if err != nil {
		logger.Errorf("failed to start pixel source: %v", err)
	} else {
		s.SetFramebufferSource(source)
	}
	return s
}

// serveWebSocket bridges browser/noVNC clients in over RFB-over-WebSocket:
// each accepted *websocket.Conn already satisfies io.ReadWriteCloser, so it
// is handed straight to a fresh Session exactly like a raw TCP connection.
func serveWebSocket(srv *rfb.Server, addr string, logger *log.Logger) {
	handler := websocket.Handler(func(ws *websocket.Conn) {
		ws.PayloadType = websocket.BinaryFrame
		logger.Infof("accepted websocket connection from %s", ws.Request().RemoteAddr)
		srv.ServeConn(ws)
	})
	logger.Infof("listening for RFB-over-WebSocket connections on %s", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Errorf("websocket listener failed: %v", err)
	}
}
