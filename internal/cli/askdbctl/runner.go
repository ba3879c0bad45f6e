package askdbctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// request is one HTTP call derived from a command line.
type request struct {
	method string
	path   string
	query  url.Values
	body   any
	// output receives the raw body instead of stdout when set.
	output string
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("askdbctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "askdb API base URL")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 2*time.Minute), "HTTP timeout (e.g. 90s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	req, err := buildRequest(command, fs.Args()[1:], stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + req.path
	if len(req.query) > 0 {
		endpoint += "?" + req.query.Encode()
	}
	code, responseBody, err := doRequest(ctx, client, req.method, endpoint, req.body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if req.output != "" {
		if err := os.WriteFile(req.output, responseBody, 0o644); err != nil {
			_, _ = fmt.Fprintf(stderr, "write %s: %v\n", req.output, err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "wrote %d bytes to %s\n", len(responseBody), req.output)
		return 0
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func buildRequest(command string, args []string, stderr io.Writer) (request, error) {
	switch command {
	case "health":
		return request{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return request{method: http.MethodGet, path: "/v1/ready"}, nil
	case "sessions":
		return request{method: http.MethodGet, path: "/v1/sessions"}, nil
	case "connect":
		return connectRequest(args, stderr)
	case "schema", "reconnect", "disconnect":
		id, err := sessionArg(command, args)
		if err != nil {
			return request{}, err
		}
		switch command {
		case "schema":
			return request{method: http.MethodGet, path: sessionPath(id, "/schema")}, nil
		case "reconnect":
			return request{method: http.MethodPost, path: sessionPath(id, "/reconnect")}, nil
		default:
			return request{method: http.MethodDelete, path: sessionPath(id, "")}, nil
		}
	case "ask":
		id, err := sessionArg(command, args)
		if err != nil {
			return request{}, err
		}
		question := strings.TrimSpace(strings.Join(args[1:], " "))
		if question == "" {
			return request{}, fmt.Errorf("ask requires a question")
		}
		return request{
			method: http.MethodPost,
			path:   sessionPath(id, "/ask"),
			body:   map[string]string{"question": question},
		}, nil
	case "history":
		return historyRequest(args, stderr)
	case "export":
		return exportRequest(args, stderr)
	default:
		return request{}, fmt.Errorf("unknown command %q", command)
	}
}

func connectRequest(args []string, stderr io.Writer) (request, error) {
	fs := flag.NewFlagSet("connect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	server := fs.String("server", "", "SQL Server host, host\\INSTANCE or host,port")
	port := fs.Int("port", 0, "TCP port")
	user := fs.String("user", "", "login name")
	password := fs.String("password", os.Getenv("ASKDB_DB_PASSWORD"), "login password")
	database := fs.String("database", "", "database name")
	trust := fs.String("trust-server-cert", "", "true|false; empty keeps the server default")
	if err := fs.Parse(args); err != nil {
		return request{}, err
	}

	body := map[string]any{}
	setIfNotEmpty(body, "server", *server)
	setIfNotEmpty(body, "user", *user)
	setIfNotEmpty(body, "password", *password)
	setIfNotEmpty(body, "database", *database)
	if *port > 0 {
		body["port"] = *port
	}
	if strings.TrimSpace(*trust) != "" {
		parsed, err := strconv.ParseBool(strings.TrimSpace(*trust))
		if err != nil {
			return request{}, fmt.Errorf("invalid -trust-server-cert %q", *trust)
		}
		body["trust_server_certificate"] = parsed
	}
	return request{method: http.MethodPost, path: "/v1/sessions", body: body}, nil
}

func historyRequest(args []string, stderr io.Writer) (request, error) {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	limit := fs.Int("limit", 0, "maximum entries")
	if err := fs.Parse(args); err != nil {
		return request{}, err
	}
	id, err := sessionArg("history", fs.Args())
	if err != nil {
		return request{}, err
	}
	req := request{method: http.MethodGet, path: sessionPath(id, "/history")}
	if *limit > 0 {
		req.query = url.Values{"limit": []string{strconv.Itoa(*limit)}}
	}
	return req, nil
}

func exportRequest(args []string, stderr io.Writer) (request, error) {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	format := fs.String("format", "csv", "csv|parquet")
	publish := fs.Bool("publish", false, "store the export in the object store instead of downloading it")
	output := fs.String("o", "", "file to write the download to")
	if err := fs.Parse(args); err != nil {
		return request{}, err
	}
	id, err := sessionArg("export", fs.Args())
	if err != nil {
		return request{}, err
	}
	req := request{
		method: http.MethodGet,
		path:   sessionPath(id, "/export"),
		query:  url.Values{"format": []string{*format}},
	}
	if *publish {
		req.method = http.MethodPost
		return req, nil
	}
	req.output = *output
	if req.output == "" {
		req.output = "result." + *format
	}
	return req, nil
}

func sessionArg(command string, args []string) (string, error) {
	if len(args) < 1 || strings.TrimSpace(args[0]) == "" {
		return "", fmt.Errorf("%s requires a session id", command)
	}
	return strings.TrimSpace(args[0]), nil
}

func sessionPath(id, suffix string) string {
	return "/v1/sessions/" + url.PathEscape(id) + suffix
}

func setIfNotEmpty(body map[string]any, key, value string) {
	if strings.TrimSpace(value) != "" {
		body[key] = value
	}
}

func doRequest(ctx context.Context, client *http.Client, method, url string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: askdbctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                               GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                                GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  sessions                             GET /v1/sessions")
	_, _ = fmt.Fprintln(w, "  connect [-server -user -database]    POST /v1/sessions")
	_, _ = fmt.Fprintln(w, "  schema <id>                          GET /v1/sessions/{id}/schema")
	_, _ = fmt.Fprintln(w, "  ask <id> <question>                  POST /v1/sessions/{id}/ask")
	_, _ = fmt.Fprintln(w, "  export [-format -publish -o] <id>    GET|POST /v1/sessions/{id}/export")
	_, _ = fmt.Fprintln(w, "  history [-limit] <id>                GET /v1/sessions/{id}/history")
	_, _ = fmt.Fprintln(w, "  reconnect <id>                       POST /v1/sessions/{id}/reconnect")
	_, _ = fmt.Fprintln(w, "  disconnect <id>                      DELETE /v1/sessions/{id}")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
