package uniswapv2

import (
	"math/big"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	uniswapv2 "github.com/tychomaker/divergence-bot/internal/simulator/uniswapv2"
)

var (
	addrUSDC  = common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	addrWETH  = common.HexToAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
	addrOther = common.HexToAddress("0x6b175474e89094c44da98b954eedeac495271d0f")
	addrPool  = common.HexToAddress("0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc")
)

// newBigIntFromString is a helper function to create a big.Int from a string,
// which is necessary for numbers larger than a standard int64.
func newBigIntFromString(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("failed to set string for big.Int")
	}
	return n
}

func TestGetAmountOut(t *testing.T) {
	testCases := []struct {
		name           string
		amountIn       *big.Int
		tokenIn        common.Address
		tokenOut       common.Address
		pool           uniswapv2.State
		expectedAmount *big.Int
		expectError    bool
		expectedErr    error // Use specific error types for checking
	}{
		{
			name:     "Standard Swap (Token0 -> Token1)",
			amountIn: big.NewInt(1_000_000), // 1 USDC (6 decimals)
			tokenIn:  addrUSDC,
			tokenOut: addrWETH,
			pool: uniswapv2.State{
				Address:  addrPool,
				Token0:   addrUSDC,
				Token1:   addrWETH,
				Reserve0: big.NewInt(100_000_000),                     // 100 USDC
				Reserve1: newBigIntFromString("50000000000000000000"), // 50 WETH (18 decimals)
				FeeBps:   30,
			},
			expectedAmount: newBigIntFromString("493579017198530649"),
		},
		{
			name:     "Standard Swap (Token1 -> Token0)",
			amountIn: newBigIntFromString("1000000000000000000"), // 1 WETH
			tokenIn:  addrWETH,
			tokenOut: addrUSDC,
			pool: uniswapv2.State{
				Address:  addrPool,
				Token0:   addrUSDC,
				Token1:   addrWETH,
				Reserve0: big.NewInt(100_000_000),
				Reserve1: newBigIntFromString("50000000000000000000"),
				FeeBps:   30,
			},
			expectedAmount: big.NewInt(1955016),
		},
		{
			name:     "Swap with Different Fee",
			amountIn: big.NewInt(1_000_000),
			tokenIn:  addrUSDC,
			tokenOut: addrWETH,
			pool: uniswapv2.State{
				Address:  addrPool,
				Token0:   addrUSDC,
				Token1:   addrWETH,
				Reserve0: big.NewInt(100_000_000),
				Reserve1: newBigIntFromString("50000000000000000000"),
				FeeBps:   100, // 1% fee
			},
			expectedAmount: newBigIntFromString("490147539360332706"),
		},
		{
			name:     "Edge Case: Zero Liquidity",
			amountIn: big.NewInt(1_000_000),
			tokenIn:  addrUSDC,
			tokenOut: addrWETH,
			pool: uniswapv2.State{
				Address:  addrPool,
				Token0:   addrUSDC,
				Token1:   addrWETH,
				Reserve0: big.NewInt(0), // Zero reserve
				Reserve1: newBigIntFromString("50000000000000000000"),
				FeeBps:   30,
			},
			expectedAmount: big.NewInt(0),
		},
		{
			name:        "Invalid Input: Nil AmountIn",
			amountIn:    nil,
			tokenIn:     addrUSDC,
			tokenOut:    addrWETH,
			pool:        uniswapv2.State{},
			expectError: true,
			expectedErr: ErrNilAmount,
		},
		{
			name:        "Invalid Input: Negative AmountIn",
			amountIn:    big.NewInt(-100),
			tokenIn:     addrUSDC,
			tokenOut:    addrWETH,
			pool:        uniswapv2.State{},
			expectError: true,
			expectedErr: ErrInvalidAmount,
		},
		{
			name:     "Invalid Input: Token Mismatch",
			amountIn: big.NewInt(1_000_000),
			tokenIn:  addrOther, // This token is not in the pool
			tokenOut: addrWETH,
			pool: uniswapv2.State{
				Address:  addrPool,
				Token0:   addrUSDC,
				Token1:   addrWETH,
				Reserve0: big.NewInt(100_000_000),
				Reserve1: newBigIntFromString("50000000000000000000"),
			},
			expectError: true,
			expectedErr: ErrTokenMismatch,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			amountOut, err := GetAmountOut(tc.amountIn, tc.tokenIn, tc.tokenOut, tc.pool)

			if tc.expectError {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.expectedErr)
			} else {
				require.NoError(t, err)
				require.NotNil(t, amountOut)
				assert.Zero(t, tc.expectedAmount.Cmp(amountOut), "Expected %s, but got %s", tc.expectedAmount.String(), amountOut.String())
			}
		})
	}
}

func TestGetAmountIn(t *testing.T) {
	testCases := []struct {
		name           string
		amountOut      *big.Int
		tokenIn        common.Address
		tokenOut       common.Address
		pool           uniswapv2.State
		expectedAmount *big.Int
		expectError    bool
		expectedErr    error
	}{
		{
			name:      "Standard Swap (Token0 -> Token1)",
			amountOut: newBigIntFromString("493579017198530649"),
			tokenIn:   addrUSDC,
			tokenOut:  addrWETH,
			pool: uniswapv2.State{
				Address:  addrPool,
				Token0:   addrUSDC,
				Token1:   addrWETH,
				Reserve0: big.NewInt(100_000_000),
				Reserve1: newBigIntFromString("50000000000000000000"),
				FeeBps:   30,
			},
			expectedAmount: big.NewInt(1000000),
		},
		{
			name:      "Standard Swap (Token1 -> Token0)",
			amountOut: big.NewInt(1955016),
			tokenIn:   addrWETH,
			tokenOut:  addrUSDC,
			pool: uniswapv2.State{
				Address:  addrPool,
				Token0:   addrUSDC,
				Token1:   addrWETH,
				Reserve0: big.NewInt(100_000_000),
				Reserve1: newBigIntFromString("50000000000000000000"),
				FeeBps:   30,
			},
			expectedAmount: newBigIntFromString("999999498234537320"),
		},
		{
			name:        "Invalid Input: Nil AmountOut",
			amountOut:   nil,
			expectError: true,
			expectedErr: ErrNilAmount,
		},
		{
			name:        "Invalid Input: Negative AmountOut",
			amountOut:   big.NewInt(-100),
			expectError: true,
			expectedErr: ErrInvalidAmount,
		},
		{
			name:      "Invalid State: Insufficient Liquidity",
			amountOut: newBigIntFromString("60000000000000000000"), // Request more than is in the pool
			tokenIn:   addrUSDC,
			tokenOut:  addrWETH,
			pool: uniswapv2.State{
				Address:  addrPool,
				Token0:   addrUSDC,
				Token1:   addrWETH,
				Reserve0: big.NewInt(100_000_000),
				Reserve1: newBigIntFromString("50000000000000000000"),
			},
			expectError: true,
			expectedErr: ErrInsufficientLiquidity,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			amountIn, err := GetAmountIn(tc.amountOut, tc.tokenIn, tc.tokenOut, tc.pool)

			if tc.expectError {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.expectedErr)
			} else {
				require.NoError(t, err)
				require.NotNil(t, amountIn)
				assert.Zero(t, tc.expectedAmount.Cmp(amountIn), "Expected %s, but got %s", tc.expectedAmount.String(), amountIn.String())
			}
		})
	}
}

func TestSimulateSwap(t *testing.T) {
	pool := uniswapv2.State{
		Address:  addrPool,
		Token0:   addrUSDC,
		Token1:   addrWETH,
		Reserve0: big.NewInt(100_000_000),
		Reserve1: newBigIntFromString("50000000000000000000"),
		FeeBps:   30,
	}
	amountIn := big.NewInt(1_000_000)

	amountOut, newPool, err := SimulateSwap(amountIn, addrUSDC, addrWETH, pool)
	require.NoError(t, err)

	// Check amountOut
	expectedAmountOut := newBigIntFromString("493579017198530649")
	assert.Zero(t, expectedAmountOut.Cmp(amountOut))

	// Check new reserves
	expectedReserve0 := new(big.Int).Add(pool.Reserve0, amountIn)
	expectedReserve1 := new(big.Int).Sub(pool.Reserve1, amountOut)
	assert.Zero(t, expectedReserve0.Cmp(newPool.Reserve0))
	assert.Zero(t, expectedReserve1.Cmp(newPool.Reserve1))
}

// TestSimulateSwap_IdempotencyAndStateIsolation verifies that the simulation
// function does not mutate its inputs and that the returned new state is a
// proper deep copy of its mutable fields, preventing side effects.
func TestSimulateSwap_IdempotencyAndStateIsolation(t *testing.T) {
	originalPool := uniswapv2.State{
		Address:  addrPool,
		Token0:   addrUSDC,
		Token1:   addrWETH,
		Reserve0: big.NewInt(100_000_000),
		Reserve1: newBigIntFromString("50000000000000000000"),
		FeeBps:   30,
	}
	amountIn := big.NewInt(1_000_000)

	// Run the simulation twice on the *same original state*.
	amountOut1, newPoolState1, err1 := SimulateSwap(amountIn, addrUSDC, addrWETH, originalPool)
	require.NoError(t, err1, "First simulation should succeed")

	amountOut2, newPoolState2, err2 := SimulateSwap(amountIn, addrUSDC, addrWETH, originalPool)
	require.NoError(t, err2, "Second simulation should succeed")

	t.Run("Idempotency Check", func(t *testing.T) {
		// If the first simulation had mutated 'originalPool', the second
		// would have started from a different state and diverged.
		assert.Equal(t, amountOut1.String(), amountOut2.String(), "Amount out should be identical on consecutive runs")
		assert.True(t, reflect.DeepEqual(newPoolState1, newPoolState2), "The new pool state should be identical on consecutive runs")
	})

	t.Run("Deep Copy Check (Reserves)", func(t *testing.T) {
		assert.NotSame(t, originalPool.Reserve0, newPoolState1.Reserve0, "New state's Reserve0 should be a new big.Int instance")
		assert.NotSame(t, originalPool.Reserve1, newPoolState1.Reserve1, "New state's Reserve1 should be a new big.Int instance")
	})

	t.Run("Result Isolation Check", func(t *testing.T) {
		// Mutating the result of the first simulation must not affect the second.
		originalReserve2 := new(big.Int).Set(newPoolState2.Reserve0)

		newPoolState1.Reserve0.Add(newPoolState1.Reserve0, big.NewInt(12345))

		assert.NotEqual(t, newPoolState1.Reserve0.String(), newPoolState2.Reserve0.String(), "Modifying state 1 should not affect state 2")
		assert.Equal(t, originalReserve2.String(), newPoolState2.Reserve0.String(), "State 2's Reserve0 should remain pristine")
	})
}

// --- Benchmarks ---

// result is a package-level variable to ensure the compiler does not optimize away the benchmarked function call.
var result *big.Int
var resultPool uniswapv2.State

func BenchmarkGetAmountOut(b *testing.B) {
	pool := uniswapv2.State{
		Address:  addrPool,
		Token0:   addrUSDC,
		Token1:   addrWETH,
		Reserve0: newBigIntFromString("2000000000000"),          // 2,000,000 USDC
		Reserve1: newBigIntFromString("1000000000000000000000"), // 1,000 WETH
		FeeBps:   30,
	}
	amountIn := newBigIntFromString("1000000000000000000") // 1 WETH

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		amountOut, _ := GetAmountOut(amountIn, addrWETH, addrUSDC, pool)
		result = amountOut
	}
}

func BenchmarkSimulateSwap(b *testing.B) {
	pool := uniswapv2.State{
		Address:  addrPool,
		Token0:   addrUSDC,
		Token1:   addrWETH,
		Reserve0: newBigIntFromString("2000000000000"),
		Reserve1: newBigIntFromString("1000000000000000000000"),
		FeeBps:   30,
	}
	amountIn := newBigIntFromString("1000000000000000000")

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		amountOut, newPool, _ := SimulateSwap(amountIn, addrWETH, addrUSDC, pool)
		result = amountOut
		resultPool = newPool
	}
}

func TestGetExchangeRate(t *testing.T) {
	// Token0 is WETH (18 decimals), Token1 is USDC (6 decimals).
	// Price: 3,000 USDC per WETH
	reserve0 := new(big.Int).Mul(big.NewInt(1000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))   // 1,000 WETH
	reserve1 := new(big.Int).Mul(big.NewInt(3000000), new(big.Int).Exp(big.NewInt(10), big.NewInt(6), nil)) // 3,000,000 USDC

	mockPool := uniswapv2.State{
		Address:  addrPool,
		Token0:   addrWETH,
		Token1:   addrUSDC,
		Reserve0: reserve0,
		Reserve1: reserve1,
	}

	testCases := []struct {
		name          string
		tokenIn       common.Address
		tokenOut      common.Address
		decimalsIn    uint8
		pool          uniswapv2.State
		expectedPrice string
		expectError   bool
	}{
		{
			name:          "Native Direction: WETH (18) -> USDC (6)",
			tokenIn:       addrWETH,
			tokenOut:      addrUSDC,
			decimalsIn:    18,
			pool:          mockPool,
			expectedPrice: "2970297029", // Represents 2970 USDC (scaled by 6 decimals)
		},
		{
			name:          "Inverse Direction: USDC (6) -> WETH (18)",
			tokenIn:       addrUSDC,
			tokenOut:      addrWETH,
			decimalsIn:    6,
			pool:          mockPool,
			expectedPrice: "330033003300330", // Represents ~0.00033 WETH (scaled by 18 decimals)
		},
		{
			name:        "Mismatched Tokens: Should return an error",
			tokenIn:     addrOther, // A token not in the pool
			tokenOut:    addrWETH,
			decimalsIn:  18,
			pool:        mockPool,
			expectError: true,
		},
		{
			name:       "Edge Case: Zero Reserve in Denominator",
			tokenIn:    addrWETH,
			tokenOut:   addrUSDC,
			decimalsIn: 18,
			pool: uniswapv2.State{ // Pool with a zero reserve
				Address:  addrPool,
				Token0:   addrWETH,
				Token1:   addrUSDC,
				Reserve0: big.NewInt(0),
				Reserve1: reserve1,
			},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			exchangeRate, err := GetExchangeRate(tc.tokenIn, tc.tokenOut, tc.decimalsIn, tc.pool)

			if tc.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			expectedBigInt := newBigIntFromString(tc.expectedPrice)
			assert.Zero(t, exchangeRate.Cmp(expectedBigInt), "Expected %s, got %s", expectedBigInt.String(), exchangeRate.String())
		})
	}
}
