package simulator

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tychomaker/divergence-bot/internal/domain"
	uniswapv2 "github.com/tychomaker/divergence-bot/internal/simulator/uniswapv2"
)

var (
	weth = domain.Token{Address: common.HexToAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"), Decimals: 18, Symbol: "WETH"}
	usdc = domain.Token{Address: common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"), Decimals: 6, Symbol: "USDC"}
)

func v2PoolState() uniswapv2.State {
	// 1,000 WETH vs 3,000,000 USDC: price 3,000 USDC per WETH
	return uniswapv2.State{
		Address:  common.HexToAddress("0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc"),
		Token0:   weth.Address,
		Token1:   usdc.Address,
		Reserve0: new(big.Int).Mul(big.NewInt(1000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)),
		Reserve1: new(big.Int).Mul(big.NewInt(3_000_000), big.NewInt(1_000_000)),
		FeeBps:   30,
	}
}

func TestV2SpotPrice(t *testing.T) {
	sim := NewUniswapV2(v2PoolState())

	price, err := sim.SpotPrice(weth, usdc)
	require.NoError(t, err)
	// 1% probe depth plus the 30 bps fee pull the marginal quote below 3000.
	assert.InDelta(t, 3000, price, 45)

	inverse, err := sim.SpotPrice(usdc, weth)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3000, inverse, 1.0/3000*0.02)
}

func TestV2GetAmountOut(t *testing.T) {
	sim := NewUniswapV2(v2PoolState())

	amountIn := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil) // 1 WETH
	res, err := sim.GetAmountOut(amountIn, weth, usdc)
	require.NoError(t, err)
	require.NotNil(t, res.NewState)
	assert.Equal(t, uint64(uniswapV2SwapGas), res.GasEstimate)

	out := usdc.Normalize(res.AmountOut)
	assert.Greater(t, out, 2900.0)
	assert.Less(t, out, 3000.0)

	// The original simulator must be untouched: the same quote twice.
	res2, err := sim.GetAmountOut(amountIn, weth, usdc)
	require.NoError(t, err)
	assert.Zero(t, res.AmountOut.Cmp(res2.AmountOut))

	// The post-swap state quotes worse for the same direction.
	res3, err := res.NewState.GetAmountOut(amountIn, weth, usdc)
	require.NoError(t, err)
	assert.Negative(t, res3.AmountOut.Cmp(res.AmountOut))
}

func TestDecodeUniswapV2(t *testing.T) {
	payload, err := json.Marshal(v2PoolState())
	require.NoError(t, err)

	sim, err := DecodeUniswapV2(payload)
	require.NoError(t, err)

	price, err := sim.SpotPrice(weth, usdc)
	require.NoError(t, err)
	assert.InDelta(t, 3000, price, 45)
}

func TestDecodeUniswapV2Malformed(t *testing.T) {
	_, err := DecodeUniswapV2([]byte(`{"address": 42}`))
	require.Error(t, err)

	_, err = DecodeUniswapV2([]byte(`{"address": "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc"}`))
	require.ErrorContains(t, err, "missing reserves")
}

func TestDecodersRegistry(t *testing.T) {
	decoders := Decoders()
	require.Contains(t, decoders, "uniswap_v2")
	require.Contains(t, decoders, "uniswap_v3")
}

func TestDecodeUniswapV3Malformed(t *testing.T) {
	_, err := DecodeUniswapV3([]byte(`{`))
	require.Error(t, err)

	_, err = DecodeUniswapV3([]byte(`{"address": "0x8ad599c3a0ff1de082011efddc58f1908eb6e6d8"}`))
	require.ErrorContains(t, err, "missing liquidity")
}

func TestV3SpotPriceTokenMismatch(t *testing.T) {
	payload := []byte(`{
		"address": "0x8ad599c3a0ff1de082011efddc58f1908eb6e6d8",
		"token0": "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
		"token1": "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		"fee": 3000,
		"tick": 0,
		"liquidity": 1000000,
		"sqrtPriceX96": 79228162514264337593543950336
	}`)
	sim, err := DecodeUniswapV3(payload)
	require.NoError(t, err)

	dai := domain.Token{Address: common.HexToAddress("0x6b175474e89094c44da98b954eedeac495271d0f"), Decimals: 18}
	_, err = sim.SpotPrice(dai, usdc)
	require.ErrorContains(t, err, "is not in pool")
}
