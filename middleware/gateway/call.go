package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// panicError marca um panic recuperado dentro de um colaborador.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("gateway: collaborator panic: %v", e.value)
}

func isPanic(err error) bool {
	var p *panicError
	return errors.As(err, &p)
}

// callWithTimeout executa fn com prazo. O chamador recebe ctx.Err() quando o
// prazo vence, mesmo que fn ignore o contexto.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- result{err: &panicError{value: p}}
			}
		}()
		v, err := fn(ctx)
		ch <- result{v: v, err: err}
	}()

	select {
	case res := <-ch:
		return res.v, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
