package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	shift "github.com/shiftex/shift"
	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[shift] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()

	app.Version = shift.Version()
	app.Name = "shift"
	app.Usage = "control plane for your shiftd"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "restserver",
			Value: "localhost:8082",
			Usage: "shiftd daemon address host:port",
		},
	}
	app.Commands = []cli.Command{
		orderCommand, confirmCommand, addressesCommand,
		tradeCommand, statusCommand, retryCommand, cancelCommand,
		historyCommand, tokensCommand, pricesCommand,
	}

	err := app.Run(os.Args)
	if err != nil {
		fatal(err)
	}
}

// restClient is a thin client for shiftd's REST api.
type restClient struct {
	base string
	http *http.Client
}

func getClient(ctx *cli.Context) *restClient {
	return &restClient{
		base: "http://" + ctx.GlobalString("restserver") + "/v1",
		http: &http.Client{},
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// call performs a request and decodes the json response into out. Error
// responses are surfaced as plain errors.
func (c *restClient) call(method, path string, query url.Values,
	body, out interface{}) error {

	reqURL := c.base + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, reqURL, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		if json.Unmarshal(raw, &errResp) == nil &&
			errResp.Error != "" {

			return fmt.Errorf("%v", errResp.Error)
		}
		return fmt.Errorf("server returned %v", resp.Status)
	}

	if out != nil && len(raw) > 0 {
		return json.Unmarshal(raw, out)
	}

	return nil
}

// printJSON re-indents and prints a response value.
func printJSON(v interface{}) {
	encoded, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		fmt.Println("unable to encode response: ", err)
		return
	}

	fmt.Println(string(encoded))
}
