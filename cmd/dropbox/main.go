// Dropbox command-line client.
//
// Credentials come from DROPBOX_CONSUMER_KEY and DROPBOX_CONSUMER_SECRET.
// The authorized session is kept in DROPBOX_SESSION_FILE.
//
// Sub-commands:
//
//	dropbox authorize                 Run the OAuth flow and save the session
//	dropbox logout                    Forget the saved session
//	dropbox account                   Show account information
//	dropbox ls <path>                 List a folder
//	dropbox info <path>               Show metadata for a path
//	dropbox get <path> [-o file]      Download a file
//	dropbox put <local> <remote-dir>  Upload a file
//	dropbox mkdir <path>              Create a folder
//	dropbox rm <path>                 Delete a file or folder
//	dropbox mv <src> <dst>            Move
//	dropbox cp <src> <dst>            Copy
//	dropbox rename <path> <name>      Rename in place
//	dropbox link <path>               Print a shareable link
//	dropbox thumb <path> [-o file]    Download a thumbnail
//	dropbox serve-pingback            Receive pingbacks and log their revisions
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/fruitsalade/dropbox/internal/config"
	"github.com/fruitsalade/dropbox/internal/logging"
	"github.com/fruitsalade/dropbox/internal/metrics"
	"github.com/fruitsalade/dropbox/pkg/cache"
	"github.com/fruitsalade/dropbox/pkg/client"
	"github.com/fruitsalade/dropbox/pkg/events"
	"github.com/fruitsalade/dropbox/pkg/protocol"
)

type command func(ctx context.Context, app *app, args []string) error

var commands = map[string]command{
	"authorize":      cmdAuthorize,
	"logout":         cmdLogout,
	"account":        cmdAccount,
	"ls":             cmdList,
	"info":           cmdInfo,
	"get":            cmdGet,
	"put":            cmdPut,
	"mkdir":          cmdMkdir,
	"rm":             cmdDelete,
	"mv":             cmdMove,
	"cp":             cmdCopy,
	"rename":         cmdRename,
	"link":           cmdLink,
	"thumb":          cmdThumb,
	"serve-pingback": cmdServePingback,
}

type app struct {
	cfg *config.Config
	fs  afero.Fs
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: logging init: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, fs: afero.NewOsFs()}
	if err := cmd(ctx, a, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logging.Sync()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: dropbox <command> [flags] [args]\n\nCommands:\n")
	for _, name := range []string{
		"authorize", "logout", "account", "ls", "info", "get", "put", "mkdir",
		"rm", "mv", "cp", "rename", "link", "thumb", "serve-pingback",
	} {
		fmt.Fprintf(os.Stderr, "  %s\n", name)
	}
}

// flags returns a flag set carrying the options every API command accepts.
func flags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	mode := fs.String("mode", "", "Root mode for this call: sandbox, dropbox or metadata_only")
	return fs, mode
}

func callOptions(mode string) ([]client.Option, error) {
	if mode == "" {
		return nil, nil
	}
	m, err := client.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	return []client.Option{client.WithMode(m)}, nil
}

func (a *app) sessionOptions() []client.SessionOption {
	return []client.SessionOption{
		client.WithTimeout(a.cfg.Timeout),
		client.WithLogger(logging.L()),
	}
}

func (a *app) session() (*client.Session, error) {
	s, err := client.LoadSession(a.fs, a.cfg.SessionFile, a.sessionOptions()...)
	if err != nil {
		return nil, fmt.Errorf("%w (run 'dropbox authorize' first)", err)
	}
	return s, nil
}

// ops returns the session, memoized when DROPBOX_MEMO_SIZE is positive.
func (a *app) ops() (client.Operations, error) {
	s, err := a.session()
	if err != nil {
		return nil, err
	}
	if a.cfg.MemoSize <= 0 {
		return s, nil
	}
	return client.NewMemoized(s, cache.New(a.cfg.MemoSize)), nil
}

func parse(fs *flag.FlagSet, args []string, want int, usage string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != want {
		return fmt.Errorf("usage: dropbox %s", usage)
	}
	return nil
}

func cmdAuthorize(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("authorize", flag.ExitOnError)
	callback := fs.String("callback", "", "OAuth callback URL")
	if err := parse(fs, args, 0, "authorize [-callback url]"); err != nil {
		return err
	}

	mode, err := client.ParseMode(a.cfg.Mode)
	if err != nil {
		return err
	}
	opts := append(a.sessionOptions(), client.WithSessionSSL(a.cfg.SSL), client.WithSessionMode(mode))
	s, err := client.NewSession(ctx, a.cfg.ConsumerKey, a.cfg.ConsumerSecret, opts...)
	if err != nil {
		return err
	}

	var params map[string][]string
	if *callback != "" {
		params = map[string][]string{protocol.ParamCallback: {*callback}}
	}
	u, err := s.AuthorizeURL(params)
	if err != nil {
		return err
	}
	fmt.Printf("Visit this URL to authorize the application:\n\n  %s\n\n", u)

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("stdin is not a terminal; cannot wait for confirmation")
	}
	fmt.Print("Press Enter once you have authorized access...")
	if _, err := bufio.NewReader(os.Stdin).ReadString('\n'); err != nil {
		return err
	}

	ok, err := s.Authorize(ctx, nil)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("the server did not grant an access token")
	}
	if err := client.SaveSession(a.fs, a.cfg.SessionFile, s); err != nil {
		return err
	}
	fmt.Printf("Authorized. Session saved to %s\n", a.cfg.SessionFile)
	return nil
}

func cmdLogout(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	if err := parse(fs, args, 0, "logout"); err != nil {
		return err
	}
	if err := client.DeleteSession(a.fs, a.cfg.SessionFile); err != nil {
		return err
	}
	fmt.Println("Logged out.")
	return nil
}

func cmdAccount(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("account", flag.ExitOnError)
	if err := parse(fs, args, 0, "account"); err != nil {
		return err
	}
	ops, err := a.ops()
	if err != nil {
		return err
	}
	acct, err := ops.Account(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Name:    %s\n", acct.DisplayName)
	fmt.Printf("UID:     %d\n", acct.UID)
	if acct.Email != "" {
		fmt.Printf("Email:   %s\n", acct.Email)
	}
	if acct.Country != "" {
		fmt.Printf("Country: %s\n", acct.Country)
	}
	if q := acct.Quota; q != nil {
		fmt.Printf("Quota:   %d of %d bytes used (%d shared)\n", q.Normal+q.Shared, q.Quota, q.Shared)
	}
	return nil
}

func cmdList(ctx context.Context, a *app, args []string) error {
	fs, mode := flags("ls")
	if err := parse(fs, args, 1, "ls [-mode m] <path>"); err != nil {
		return err
	}
	opts, err := callOptions(*mode)
	if err != nil {
		return err
	}
	ops, err := a.ops()
	if err != nil {
		return err
	}

	children, err := client.NewEntry(ops, fs.Arg(0)).List(ctx, opts...)
	if err != nil {
		return err
	}
	fmt.Printf("%-6s  %10s  %-25s  %s\n", "TYPE", "BYTES", "MODIFIED", "PATH")
	for _, c := range children {
		m := c.CachedMetadata()
		kind := "file"
		if m.Directory() {
			kind = "dir"
		}
		modified := "-"
		if m.Modified != nil {
			modified = m.Modified.Format(time.RFC3339)
		}
		fmt.Printf("%-6s  %10d  %-25s  %s\n", kind, m.Bytes, modified, m.Path)
	}
	return nil
}

func cmdInfo(ctx context.Context, a *app, args []string) error {
	fs, mode := flags("info")
	if err := parse(fs, args, 1, "info [-mode m] <path>"); err != nil {
		return err
	}
	opts, err := callOptions(*mode)
	if err != nil {
		return err
	}
	ops, err := a.ops()
	if err != nil {
		return err
	}
	m, err := ops.Metadata(ctx, fs.Arg(0), append(opts, client.WithSuppressList())...)
	if err != nil {
		return err
	}
	fmt.Printf("Path:      %s\n", m.Path)
	fmt.Printf("Directory: %t\n", m.Directory())
	fmt.Printf("Size:      %s (%d bytes)\n", m.Size, m.Bytes)
	if m.Modified != nil {
		fmt.Printf("Modified:  %s\n", m.Modified.Format(time.RFC1123Z))
	}
	if m.Rev != "" {
		fmt.Printf("Rev:       %s\n", m.Rev)
	}
	if m.MimeType != "" {
		fmt.Printf("MIME type: %s\n", m.MimeType)
	}
	if m.IsDeleted {
		fmt.Println("Deleted:   true")
	}
	return nil
}

func writeOutput(fs afero.Fs, out string, data []byte) error {
	if out == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return afero.WriteFile(fs, out, data, 0o644)
}

func cmdGet(ctx context.Context, a *app, args []string) error {
	fs, mode := flags("get")
	out := fs.String("o", "", "Output file (default: the remote file name, - for stdout)")
	if err := parse(fs, args, 1, "get [-mode m] [-o file] <path>"); err != nil {
		return err
	}
	opts, err := callOptions(*mode)
	if err != nil {
		return err
	}
	ops, err := a.ops()
	if err != nil {
		return err
	}
	data, err := ops.Download(ctx, fs.Arg(0), opts...)
	if err != nil {
		return err
	}
	if *out == "" {
		*out = path.Base(fs.Arg(0))
	}
	return writeOutput(a.fs, *out, data)
}

func cmdPut(ctx context.Context, a *app, args []string) error {
	fs, mode := flags("put")
	if err := parse(fs, args, 2, "put [-mode m] <local-file> <remote-dir>"); err != nil {
		return err
	}
	opts, err := callOptions(*mode)
	if err != nil {
		return err
	}
	ops, err := a.ops()
	if err != nil {
		return err
	}
	m, err := ops.Upload(ctx, client.FromFs(a.fs, fs.Arg(0)), fs.Arg(1), opts...)
	if err != nil {
		return err
	}
	fmt.Printf("Uploaded %s (%s)\n", m.Path, m.Size)
	return nil
}

func cmdMkdir(ctx context.Context, a *app, args []string) error {
	fs, mode := flags("mkdir")
	if err := parse(fs, args, 1, "mkdir [-mode m] <path>"); err != nil {
		return err
	}
	opts, err := callOptions(*mode)
	if err != nil {
		return err
	}
	ops, err := a.ops()
	if err != nil {
		return err
	}
	m, err := ops.CreateFolder(ctx, fs.Arg(0), opts...)
	if err != nil {
		return err
	}
	fmt.Printf("Created %s\n", m.Path)
	return nil
}

func cmdDelete(ctx context.Context, a *app, args []string) error {
	fs, mode := flags("rm")
	if err := parse(fs, args, 1, "rm [-mode m] <path>"); err != nil {
		return err
	}
	opts, err := callOptions(*mode)
	if err != nil {
		return err
	}
	ops, err := a.ops()
	if err != nil {
		return err
	}
	if _, err := ops.Delete(ctx, fs.Arg(0), opts...); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", fs.Arg(0))
	return nil
}

func cmdMove(ctx context.Context, a *app, args []string) error {
	return fileop(ctx, a, "mv", args, func(ops client.Operations, src, dst string, opts []client.Option) (string, error) {
		m, err := ops.Move(ctx, src, dst, opts...)
		if err != nil {
			return "", err
		}
		return m.Path, nil
	})
}

func cmdCopy(ctx context.Context, a *app, args []string) error {
	return fileop(ctx, a, "cp", args, func(ops client.Operations, src, dst string, opts []client.Option) (string, error) {
		m, err := ops.Copy(ctx, src, dst, opts...)
		if err != nil {
			return "", err
		}
		return m.Path, nil
	})
}

func cmdRename(ctx context.Context, a *app, args []string) error {
	return fileop(ctx, a, "rename", args, func(ops client.Operations, p, name string, opts []client.Option) (string, error) {
		m, err := ops.Rename(ctx, p, name, opts...)
		if err != nil {
			return "", err
		}
		return m.Path, nil
	})
}

func fileop(ctx context.Context, a *app, name string, args []string,
	op func(ops client.Operations, a, b string, opts []client.Option) (string, error)) error {
	fs, mode := flags(name)
	if err := parse(fs, args, 2, name+" [-mode m] <src> <dst>"); err != nil {
		return err
	}
	opts, err := callOptions(*mode)
	if err != nil {
		return err
	}
	ops, err := a.ops()
	if err != nil {
		return err
	}
	result, err := op(ops, fs.Arg(0), fs.Arg(1), opts)
	if err != nil {
		return err
	}
	fmt.Printf("%s -> %s\n", fs.Arg(0), result)
	return nil
}

func cmdLink(ctx context.Context, a *app, args []string) error {
	fs, mode := flags("link")
	if err := parse(fs, args, 1, "link [-mode m] <path>"); err != nil {
		return err
	}
	opts, err := callOptions(*mode)
	if err != nil {
		return err
	}
	ops, err := a.ops()
	if err != nil {
		return err
	}
	link, err := ops.Link(ctx, fs.Arg(0), opts...)
	if err != nil {
		return err
	}
	fmt.Println(link)
	return nil
}

func cmdThumb(ctx context.Context, a *app, args []string) error {
	fs, mode := flags("thumb")
	size := fs.String("size", "", "Thumbnail size: small, medium, large, s, m, l, xl")
	out := fs.String("o", "", "Output file (default: thumb-<name>, - for stdout)")
	if err := parse(fs, args, 1, "thumb [-mode m] [-size s] [-o file] <path>"); err != nil {
		return err
	}
	opts, err := callOptions(*mode)
	if err != nil {
		return err
	}
	if *size != "" {
		opts = append(opts, client.WithSize(*size))
	}
	ops, err := a.ops()
	if err != nil {
		return err
	}
	data, err := ops.Thumbnail(ctx, fs.Arg(0), opts...)
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("no thumbnail available for %s", fs.Arg(0))
	}
	if *out == "" {
		*out = "thumb-" + path.Base(fs.Arg(0))
	}
	return writeOutput(a.fs, *out, data)
}

func cmdServePingback(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("serve-pingback", flag.ExitOnError)
	addr := fs.String("addr", a.cfg.PingbackAddr, "Listen address for pingbacks")
	load := fs.Bool("load", true, "Fetch revision metadata for each pingback")
	if err := parse(fs, args, 0, "serve-pingback [-addr host:port] [-load]"); err != nil {
		return err
	}

	var ops client.Operations
	if *load {
		o, err := a.ops()
		if err != nil {
			return err
		}
		ops = o
	}

	logger := logging.L()
	receiver := events.NewReceiver(logger)
	mux := http.NewServeMux()
	mux.Handle("/pingback", receiver)
	if a.cfg.MetricsAddr == "" {
		mux.Handle("/metrics", metrics.Handler())
	} else {
		go serveMetrics(ctx, a.cfg.MetricsAddr)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           logging.Middleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sub := receiver.Subscribe()
	defer receiver.Unsubscribe(sub)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-sub:
				handlePingback(ctx, ops, ev)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logging.S().Infof("pingback receiver listening on %s", *addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down pingback receiver")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func serveMetrics(ctx context.Context, addr string) {
	srv := &http.Server{Addr: addr, Handler: metrics.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Error("metrics server failed", logging.Err(err))
	}
}

func handlePingback(ctx context.Context, ops client.Operations, ev *events.Event) {
	if ops == nil {
		for _, rev := range ev.Entries() {
			logging.Info("revision", logging.String("id", rev.Identifier()))
		}
		return
	}

	if err := ev.LoadMetadata(ctx, ops); err != nil {
		logging.Error("loading event metadata failed", logging.Err(err))
		return
	}
	for _, rev := range ev.Entries() {
		fields := []zap.Field{logging.String("id", rev.Identifier())}
		if rev.HasError() {
			logging.Warn("revision unavailable", append(fields, logging.Int64("status", rev.ErrorCode()))...)
			continue
		}
		if p, err := rev.Path(); err == nil {
			fields = append(fields, logging.String("path", p))
		}
		if deleted, err := rev.Deleted(); err == nil {
			fields = append(fields, logging.Bool("deleted", deleted))
		}
		if latest, err := rev.Latest(); err == nil {
			fields = append(fields, logging.Bool("latest", latest))
		}
		logging.Info("revision", fields...)
	}
}
