// Command predict sends one customer record to the prediction endpoint and
// prints the churn risk.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"churnintel/client"
	"churnintel/config"
	"churnintel/ml"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", config.Locate("config.yaml"), "path to config.yaml")
	endpoint := fs.String("endpoint", "", "prediction endpoint URL (default from config)")
	age := fs.Int("age", 30, "customer age")
	gender := fs.String("gender", string(ml.GenderMale), "gender (M or F)")
	income := fs.Int("income", 2, "income band (1=low, 2=medium, 3=high)")
	tenure := fs.Int("tenure", 5, "tenure in months")
	plan := fs.String("plan", string(ml.PlanStandard), "subscription plan (basic, standard, premium)")
	contract := fs.String("contract", string(ml.ContractMonthly), "contract (monthly, annual)")
	charge := fs.Float64("charge", 100, "monthly charge")
	autoRenewal := fs.Int("auto-renewal", 1, "auto renewal (0 or 1)")
	late := fs.Int("late-payment", 0, "late payment (0 or 1)")
	failed := fs.Int("failed-transaction", 0, "failed transaction (0 or 1)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return 1
	}
	if *endpoint == "" {
		*endpoint = cfg.Batch.Endpoint
	}

	num := func(v string) *json.Number {
		n := json.Number(v)
		return &n
	}
	str := func(v string) *string { return &v }

	raw := ml.RawRecord{
		Age:               num(strconv.Itoa(*age)),
		Gender:            str(*gender),
		IncomeNumeric:     num(strconv.Itoa(*income)),
		Tenure:            num(strconv.Itoa(*tenure)),
		SubPlan:           str(*plan),
		Contract:          str(*contract),
		MonthlyCharge:     num(strconv.FormatFloat(*charge, 'f', -1, 64)),
		AutoRenewal:       num(strconv.Itoa(*autoRenewal)),
		LatePayment:       num(strconv.Itoa(*late)),
		FailedTransaction: num(strconv.Itoa(*failed)),
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Batch.Timeout)
	defer cancel()

	result, err := client.New(*endpoint, cfg.Batch.Timeout).Predict(ctx, raw)
	if err != nil {
		var remote *client.RemoteError
		if errors.As(err, &remote) {
			fmt.Fprintf(stderr, "Error: %s\n", remote.Message)
		} else {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}

	risk := "LOW"
	if result.Prediction == 1 {
		risk = "HIGH"
	}
	fmt.Fprintf(stdout, "Churn risk: %s (probability %.2f%%)\n", risk, result.Probability*100)
	return 0
}
