package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

const maxRPCBackoff = 20 * time.Second

type Config struct {
	URL            string
	Commitment     rpc.CommitmentType
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// RPC implements Client over the solana-go JSON-RPC client. Read calls are
// retried with exponential backoff; SendTransaction is not, the executor owns
// resubmission.
type RPC struct {
	cfg    Config
	client *rpc.Client
	logger *slog.Logger
}

func NewRPC(cfg Config, logger *slog.Logger) *RPC {
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RPC{
		cfg:    cfg,
		client: rpc.New(cfg.URL),
		logger: logger,
	}
}

func (c *RPC) Commitment() rpc.CommitmentType {
	return c.cfg.Commitment
}

func (c *RPC) GetAccount(ctx context.Context, address solana.PublicKey) (*Account, error) {
	var out *Account
	err := c.withRetry(ctx, "getAccountInfo", func(callCtx context.Context) error {
		res, err := c.client.GetAccountInfoWithOpts(callCtx, address, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: c.cfg.Commitment,
		})
		if err != nil {
			return err
		}
		if res == nil || res.Value == nil {
			return rpc.ErrNotFound
		}
		out = fromRPCAccount(address, res.Value)
		return nil
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}
	return out, nil
}

func (c *RPC) GetMultipleAccounts(ctx context.Context, addresses []solana.PublicKey) ([]*Account, error) {
	out := make([]*Account, 0, len(addresses))
	for start := 0; start < len(addresses); start += MaxMultipleAccounts {
		end := min(start+MaxMultipleAccounts, len(addresses))
		batch := addresses[start:end]

		var values []*rpc.Account
		err := c.withRetry(ctx, "getMultipleAccounts", func(callCtx context.Context) error {
			res, err := c.client.GetMultipleAccountsWithOpts(callCtx, batch, &rpc.GetMultipleAccountsOpts{
				Encoding:   solana.EncodingBase64,
				Commitment: c.cfg.Commitment,
			})
			if err != nil {
				return err
			}
			if res == nil {
				return fmt.Errorf("empty getMultipleAccounts response")
			}
			values = res.Value
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("get %d accounts: %w", len(batch), err)
		}
		if len(values) != len(batch) {
			return nil, fmt.Errorf("getMultipleAccounts returned %d values for %d addresses", len(values), len(batch))
		}
		for i, value := range values {
			if value == nil {
				out = append(out, nil)
				continue
			}
			out = append(out, fromRPCAccount(batch[i], value))
		}
	}
	return out, nil
}

func (c *RPC) GetProgramAccounts(ctx context.Context, program solana.PublicKey, filter ProgramFilter) ([]*Account, error) {
	filters := make([]rpc.RPCFilter, 0, 2)
	if filter.DataSize > 0 {
		filters = append(filters, rpc.RPCFilter{DataSize: filter.DataSize})
	}
	if len(filter.MemcmpBytes) > 0 {
		filters = append(filters, rpc.RPCFilter{
			Memcmp: &rpc.RPCFilterMemcmp{Offset: filter.MemcmpOffset, Bytes: solana.Base58(filter.MemcmpBytes)},
		})
	}

	var result rpc.GetProgramAccountsResult
	err := c.withRetry(ctx, "getProgramAccounts", func(callCtx context.Context) error {
		res, err := c.client.GetProgramAccountsWithOpts(callCtx, program, &rpc.GetProgramAccountsOpts{
			Commitment: c.cfg.Commitment,
			Encoding:   solana.EncodingBase64,
			Filters:    filters,
		})
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan accounts for program %s: %w", program, err)
	}

	out := make([]*Account, 0, len(result))
	for _, item := range result {
		if item == nil || item.Account == nil {
			continue
		}
		out = append(out, fromRPCAccount(item.Pubkey, item.Account))
	}
	return out, nil
}

func (c *RPC) GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	var lamports uint64
	err := c.withRetry(ctx, "getBalance", func(callCtx context.Context) error {
		res, err := c.client.GetBalance(callCtx, address, c.cfg.Commitment)
		if err != nil {
			return err
		}
		lamports = res.Value
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("get balance %s: %w", address, err)
	}
	return lamports, nil
}

func (c *RPC) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	var hash solana.Hash
	err := c.withRetry(ctx, "getLatestBlockhash", func(callCtx context.Context) error {
		res, err := c.client.GetLatestBlockhash(callCtx, c.cfg.Commitment)
		if err != nil {
			return err
		}
		if res == nil || res.Value == nil {
			return fmt.Errorf("empty blockhash response")
		}
		hash = res.Value.Blockhash
		return nil
	})
	if err != nil {
		return solana.Hash{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	return hash, nil
}

func (c *RPC) SendTransaction(ctx context.Context, tx *solana.Transaction, opts SendOptions) (solana.Signature, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	txOpts := rpc.TransactionOpts{
		SkipPreflight:       opts.SkipPreflight,
		PreflightCommitment: c.cfg.Commitment,
	}
	if opts.MaxRetries != nil {
		retries := *opts.MaxRetries
		txOpts.MaxRetries = &retries
	}
	return c.client.SendTransactionWithOpts(callCtx, tx, txOpts)
}

func (c *RPC) GetSignatureStatus(ctx context.Context, sig solana.Signature) (SignatureStatus, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	result, err := c.client.GetSignatureStatuses(callCtx, true, sig)
	if err != nil {
		return SignatureStatus{}, fmt.Errorf("get signature status %s: %w", sig, err)
	}
	if result == nil || len(result.Value) == 0 || result.Value[0] == nil {
		return SignatureStatus{}, nil
	}
	status := result.Value[0]
	return SignatureStatus{
		Found:        true,
		Slot:         status.Slot,
		Err:          status.Err,
		Confirmation: status.ConfirmationStatus,
	}, nil
}

func (c *RPC) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts := c.cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	var backoff time.Duration

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := c.callContext(ctx)
		err = fn(callCtx)
		cancel()
		if err == nil || !retryableRPCError(ctx, err) || attempt == attempts {
			return err
		}

		backoff = nextBackoff(backoff, c.cfg.RetryBaseDelay, c.cfg.RetryMaxDelay)
		c.logger.Warn("rpc call failed, retrying",
			"op", op,
			"attempt", attempt,
			"retry_in", backoff.String(),
			"err", err,
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func (c *RPC) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

func retryableRPCError(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	return !errors.Is(err, rpc.ErrNotFound)
}

func nextBackoff(current, floor, ceiling time.Duration) time.Duration {
	if floor <= 0 {
		floor = 250 * time.Millisecond
	}
	if ceiling <= 0 {
		ceiling = maxRPCBackoff
	}
	if current < floor {
		return floor
	}
	next := current * 2
	if next > ceiling {
		return ceiling
	}
	return next
}

func fromRPCAccount(address solana.PublicKey, value *rpc.Account) *Account {
	out := &Account{
		Address:  address,
		Owner:    value.Owner,
		Lamports: value.Lamports,
	}
	if value.Data != nil {
		out.Data = value.Data.GetBinary()
	}
	return out
}
