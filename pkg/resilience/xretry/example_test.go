package xretry_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/omeyang/xfunnel/pkg/resilience/xfault"
	"github.com/omeyang/xfunnel/pkg/resilience/xretry"
)

func ExampleOrchestrator_Run() {
	guard := xfault.NewGuard()
	defer guard.Close()

	policy := xretry.Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	orch, err := xretry.New(guard, policy, xretry.WithName("store"))
	if err != nil {
		fmt.Println(err)
		return
	}
	defer orch.Close()

	var attempts int
	err = orch.Run(context.Background(), func(_ context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("temporary error")
		}
		return nil
	})

	fmt.Println("error:", err)
	fmt.Println("attempts:", attempts)
	fmt.Println("state:", orch.Session().State)
	// Output:
	// error: <nil>
	// attempts: 2
	// state: succeeded
}

func ExamplePolicy_Delay() {
	p := xretry.Policy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 5 * time.Second}
	for i := 0; i < 4; i++ {
		fmt.Println(p.Delay(i))
	}
	// Output:
	// 1s
	// 2s
	// 4s
	// 5s
}
