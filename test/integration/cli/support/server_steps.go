package support

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/qrlens/internal/barcode"
	"github.com/MeKo-Tech/qrlens/internal/bitmap"
	"github.com/MeKo-Tech/qrlens/internal/pipeline"
	"github.com/MeKo-Tech/qrlens/internal/qrcode"
	"github.com/MeKo-Tech/qrlens/internal/server"
	"github.com/MeKo-Tech/qrlens/internal/utils"
)

// HTTPTestServerWrapper runs a real qrlens server behind httptest.
type HTTPTestServerWrapper struct {
	Server     *httptest.Server
	TestServer *server.Server
	cancel     context.CancelFunc
	done       <-chan error
}

// Close stops the HTTP listener and the frame session supervisor.
func (w *HTTPTestServerWrapper) Close() {
	w.Server.Close()
	w.cancel()
	<-w.done
}

func (testCtx *TestContext) startServer(mutate func(*server.Config)) error {
	if testCtx.Server != nil {
		return errors.New("server already running")
	}
	pl, err := pipeline.New(barcode.NewNative(nil), barcode.DefaultOptions(), nil)
	if err != nil {
		return err
	}
	cfg := server.Config{
		CORSOrigin:     "*",
		MaxUploadMB:    5,
		TimeoutSec:     10,
		CacheSize:      16,
		Dedupe:         true,
		DecoderOptions: qrcode.DefaultOptions(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := server.NewServer(cfg, pl, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	testCtx.Server = &HTTPTestServerWrapper{
		Server:     httptest.NewServer(srv.Handler()),
		TestServer: srv,
		cancel:     cancel,
		done:       srv.Supervisor().ServeBackground(ctx),
	}
	return nil
}

func (testCtx *TestContext) theServerIsRunning() error {
	return testCtx.startServer(nil)
}

func (testCtx *TestContext) theServerIsRunningWithRateLimit(rps float64, burst int) error {
	return testCtx.startServer(func(c *server.Config) {
		c.RateLimit = server.RateLimitConfig{Enabled: true, RequestsPerSecond: rps, Burst: burst, MaxClients: 16}
	})
}

func (testCtx *TestContext) record(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(body)
	testCtx.LastHTTPHeaders = make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		testCtx.LastHTTPHeaders[k] = resp.Header.Get(k)
	}
	return nil
}

func (testCtx *TestContext) url(path string) (string, error) {
	if testCtx.Server == nil {
		return "", errors.New("server is not running")
	}
	return testCtx.Server.Server.URL + path, nil
}

func (testCtx *TestContext) iGET(path string) error {
	u, err := testCtx.url(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	return testCtx.record(resp)
}

// iUpload posts a scenario file as multipart form field. Extra form
// values come as "key=value" pairs separated by commas.
func (testCtx *TestContext) iUpload(name, path, extra string) error {
	field := "image"
	if strings.HasPrefix(path, "/scan/pdf") {
		field = "pdf"
	}
	data, err := os.ReadFile(testCtx.Path(name))
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filepath.Base(name))
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	for _, kv := range strings.Split(extra, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if !ok {
			continue
		}
		if err := mw.WriteField(key, value); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	u, err := testCtx.url(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	return testCtx.record(resp)
}

func (testCtx *TestContext) iUploadPlain(name, path string) error {
	return testCtx.iUpload(name, path, "")
}

func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("response status is %d, want %d\nBody: %s", testCtx.LastHTTPStatusCode, code, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseJSONFieldShouldBe(path, expected string) error {
	v, err := jsonLookup(testCtx.LastHTTPResponse, path)
	if err != nil {
		return fmt.Errorf("%w\nBody: %s", err, testCtx.LastHTTPResponse)
	}
	if got := fmt.Sprint(v); got != expected {
		return fmt.Errorf("response field %s is %q, want %q", path, got, expected)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, text) {
		return fmt.Errorf("response does not contain '%s'\nBody: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, expected string) error {
	if got := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]; got != expected {
		return fmt.Errorf("header %s is %q, want %q", name, got, expected)
	}
	return nil
}

// wsClient is one frame streaming connection. Messages are decoded into
// generic maps so steps can inspect any field.
type wsClient struct {
	conn      *websocket.Conn
	sessionID string
}

func (c *wsClient) read() (map[string]any, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return nil, err
	}
	var msg map[string]any
	if err := c.conn.ReadJSON(&msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (c *wsClient) close() error {
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

func (testCtx *TestContext) iOpenAFrameSession() error {
	u, err := testCtx.url("/ws/frames")
	if err != nil {
		return err
	}
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(u, "http"), nil)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	testCtx.WS = &wsClient{conn: conn}

	hello, err := testCtx.WS.read()
	if err != nil {
		return err
	}
	if hello["type"] != "session" {
		return fmt.Errorf("first message is %v, want a session message", hello)
	}
	testCtx.WS.sessionID, _ = hello["session_id"].(string)
	return nil
}

func (testCtx *TestContext) iStreamTheFrame(name string) error {
	if testCtx.WS == nil {
		return errors.New("no frame session open")
	}
	img, _, err := utils.LoadImage(testCtx.Path(name))
	if err != nil {
		return err
	}
	frame := server.EncodeFrame(bitmap.FromImage(img, bitmap.TopDown))
	return testCtx.WS.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (testCtx *TestContext) iSendTheControlMessage(kind string) error {
	if testCtx.WS == nil {
		return errors.New("no frame session open")
	}
	return testCtx.WS.conn.WriteJSON(map[string]string{"type": kind})
}

func (testCtx *TestContext) iShouldReceiveAResultWithText(text string) error {
	msg, err := testCtx.WS.read()
	if err != nil {
		return err
	}
	if msg["type"] != "result" {
		return fmt.Errorf("got %v, want a result", msg)
	}
	res, _ := msg["result"].(map[string]any)
	if got := fmt.Sprint(res["text"]); got != text {
		return fmt.Errorf("result text is %q, want %q", got, text)
	}
	if msg["session_id"] != testCtx.WS.sessionID {
		return fmt.Errorf("result belongs to session %v, want %s", msg["session_id"], testCtx.WS.sessionID)
	}
	return nil
}

func (testCtx *TestContext) iShouldReceiveAMessageOfType(kind string) error {
	msg, err := testCtx.WS.read()
	if err != nil {
		return err
	}
	if msg["type"] != kind {
		return fmt.Errorf("got %v, want a %s message", msg, kind)
	}
	return nil
}

func (testCtx *TestContext) theServerShouldReportOpenSessions(n int) error {
	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := testCtx.iGET("/ws/sessions"); err != nil {
			return err
		}
		var out server.SessionsResponse
		if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &out); err != nil {
			return err
		}
		if out.Count == n {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server reports %d sessions, want %d", out.Count, n)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (testCtx *TestContext) iCloseTheFrameSession() error {
	if testCtx.WS == nil {
		return errors.New("no frame session open")
	}
	err := testCtx.WS.close()
	testCtx.WS = nil
	return err
}

// RegisterServerSteps registers the HTTP and WebSocket steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the qrlens server is running$`, testCtx.theServerIsRunning)
	sc.Step(`^the qrlens server is running with a rate limit of ([\d.]+) requests per second and burst (\d+)$`,
		testCtx.theServerIsRunningWithRateLimit)

	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGET)
	sc.Step(`^I upload "([^"]*)" to "([^"]*)"$`, testCtx.iUploadPlain)
	sc.Step(`^I upload "([^"]*)" to "([^"]*)" with "([^"]*)"$`, testCtx.iUpload)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseJSONFieldShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)

	sc.Step(`^I open a frame session$`, testCtx.iOpenAFrameSession)
	sc.Step(`^I stream the frame "([^"]*)"$`, testCtx.iStreamTheFrame)
	sc.Step(`^I send the "([^"]*)" control message$`, testCtx.iSendTheControlMessage)
	sc.Step(`^I should receive a result with text "([^"]*)"$`, testCtx.iShouldReceiveAResultWithText)
	sc.Step(`^I should receive a "([^"]*)" message$`, testCtx.iShouldReceiveAMessageOfType)
	sc.Step(`^the server should report (\d+) open sessions?$`, testCtx.theServerShouldReportOpenSessions)
	sc.Step(`^I close the frame session$`, testCtx.iCloseTheFrameSession)
}
