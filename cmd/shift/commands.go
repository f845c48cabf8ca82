package main

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/urfave/cli"
)

var orderCommand = cli.Command{
	Name:  "order",
	Usage: "show or edit the order form",
	Description: "Shows the live order form. The send, receive and " +
		"amount flags edit the form; the destination amount is " +
		"requoted on every change.",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "send",
			Usage: "token to send, e.g. BTC",
		},
		cli.StringFlag{
			Name:  "receive",
			Usage: "token to receive, e.g. DAI",
		},
		cli.StringFlag{
			Name:  "amount",
			Usage: "amount to send in whole token units",
		},
	},
	Action: order,
}

func order(ctx *cli.Context) error {
	client := getClient(ctx)

	query := url.Values{}
	for _, flag := range []string{"send", "receive", "amount"} {
		if value := ctx.String(flag); value != "" {
			query.Set(flag, value)
		}
	}

	method, path := http.MethodGet, "/order"
	if len(query) > 0 {
		method = http.MethodPut
	}

	var resp json.RawMessage
	err := client.call(method, path, query, nil, &resp)
	if err != nil {
		return err
	}

	printJSON(resp)
	return nil
}

var confirmCommand = cli.Command{
	Name:  "confirm",
	Usage: "confirm the current order",
	Description: "Takes a snapshot of the order form. The trade " +
		"will execute against the snapshot; later edits of the " +
		"form do not affect it.",
	Action: confirm,
}

func confirm(ctx *cli.Context) error {
	client := getClient(ctx)

	var resp json.RawMessage
	err := client.call(
		http.MethodPost, "/order/confirm", nil, nil, &resp,
	)
	if err != nil {
		return err
	}

	printJSON(resp)
	return nil
}

var addressesCommand = cli.Command{
	Name:  "addresses",
	Usage: "set the confirmed order's addresses",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "to",
			Usage: "destination-chain address to receive on",
		},
		cli.StringFlag{
			Name:  "refund",
			Usage: "refund address on the source chain",
		},
	},
	Action: addresses,
}

func addresses(ctx *cli.Context) error {
	client := getClient(ctx)

	req := struct {
		ToAddress     string `json:"to_address"`
		RefundAddress string `json:"refund_address"`
	}{
		ToAddress:     ctx.String("to"),
		RefundAddress: ctx.String("refund"),
	}

	var resp json.RawMessage
	err := client.call(
		http.MethodPost, "/order/addresses", nil, req, &resp,
	)
	if err != nil {
		return err
	}

	printJSON(resp)
	return nil
}

var tradeCommand = cli.Command{
	Name:  "trade",
	Usage: "open a trade for the confirmed order",
	Description: "Initiates the confirmed order's trade. Progress " +
		"can be followed with the status command.",
	Action: trade,
}

func trade(ctx *cli.Context) error {
	client := getClient(ctx)

	var resp json.RawMessage
	err := client.call(http.MethodPost, "/trade", nil, nil, &resp)
	if err != nil {
		return err
	}

	printJSON(resp)
	return nil
}

var statusCommand = cli.Command{
	Name:   "status",
	Usage:  "show the in-flight trade's status",
	Action: status,
}

func status(ctx *cli.Context) error {
	client := getClient(ctx)

	var resp json.RawMessage
	err := client.call(http.MethodGet, "/trade", nil, nil, &resp)
	if err != nil {
		return err
	}

	printJSON(resp)
	return nil
}

var retryCommand = cli.Command{
	Name:  "retry",
	Usage: "rerun the in-flight trade's failed step",
	Description: "Reruns the step the in-flight trade failed on. " +
		"Completed steps are not repeated.",
	Action: retry,
}

func retry(ctx *cli.Context) error {
	client := getClient(ctx)

	err := client.call(http.MethodPost, "/trade/retry", nil, nil, nil)
	if err != nil {
		return err
	}

	printJSON(map[string]string{"status": "retrying"})
	return nil
}

var cancelCommand = cli.Command{
	Name:  "cancel",
	Usage: "abandon the in-flight trade",
	Description: "Detaches from the in-flight trade. In-flight calls " +
		"are cancelled and late results are discarded.",
	Action: cancel,
}

func cancel(ctx *cli.Context) error {
	client := getClient(ctx)

	err := client.call(http.MethodDelete, "/trade", nil, nil, nil)
	if err != nil {
		return err
	}

	printJSON(map[string]string{"status": "cancelled"})
	return nil
}

var historyCommand = cli.Command{
	Name:   "history",
	Usage:  "show completed trades, most recent first",
	Action: history,
}

func history(ctx *cli.Context) error {
	client := getClient(ctx)

	var resp json.RawMessage
	err := client.call(http.MethodGet, "/history", nil, nil, &resp)
	if err != nil {
		return err
	}

	printJSON(resp)
	return nil
}

var tokensCommand = cli.Command{
	Name:   "tokens",
	Usage:  "list supported tokens",
	Action: tokens,
}

func tokens(ctx *cli.Context) error {
	client := getClient(ctx)

	var resp json.RawMessage
	err := client.call(http.MethodGet, "/tokens", nil, nil, &resp)
	if err != nil {
		return err
	}

	printJSON(resp)
	return nil
}

var pricesCommand = cli.Command{
	Name:   "prices",
	Usage:  "show the latest spot prices",
	Action: prices,
}

func prices(ctx *cli.Context) error {
	client := getClient(ctx)

	var resp json.RawMessage
	err := client.call(http.MethodGet, "/prices", nil, nil, &resp)
	if err != nil {
		return err
	}

	printJSON(resp)
	return nil
}
