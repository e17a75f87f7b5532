// Package evm holds the contract ABIs the bot talks to and thin helpers for
// calling them through go-ethereum's bound contracts.
package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

const routerV2ABI = `[
	{"inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"name":"amounts","type":"uint256[]"}],"stateMutability":"view","type":"function"}
]`

const comptrollerABI = `[
	{"inputs":[{"name":"account","type":"address"}],"name":"getAccountLiquidity","outputs":[{"name":"","type":"uint256"},{"name":"","type":"uint256"},{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"account","type":"address"}],"name":"getAssetsIn","outputs":[{"name":"","type":"address[]"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"oracle","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

const cTokenABI = `[
	{"inputs":[{"name":"account","type":"address"}],"name":"borrowBalanceStored","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"exchangeRateStored","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const priceOracleABI = `[
	{"inputs":[{"name":"cToken","type":"address"}],"name":"getUnderlyingPrice","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const aavePoolABI = `[
	{"inputs":[{"name":"user","type":"address"}],"name":"getUserAccountData","outputs":[
		{"name":"totalCollateralBase","type":"uint256"},
		{"name":"totalDebtBase","type":"uint256"},
		{"name":"availableBorrowsBase","type":"uint256"},
		{"name":"currentLiquidationThreshold","type":"uint256"},
		{"name":"ltv","type":"uint256"},
		{"name":"healthFactor","type":"uint256"}
	],"stateMutability":"view","type":"function"}
]`

const executorABI = `[
	{"inputs":[
		{"name":"flashloanProvider","type":"address"},
		{"name":"loanToken","type":"address"},
		{"name":"loanAmount","type":"uint256"},
		{"name":"routers","type":"address[]"},
		{"name":"swapPaths","type":"address[][]"},
		{"name":"amountsIn","type":"uint256[]"},
		{"name":"amountsOutMin","type":"uint256[]"}
	],"name":"executeArbitrage","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[
		{"name":"protocol","type":"address"},
		{"name":"borrower","type":"address"}
	],"name":"executeLiquidation","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// Parsed ABIs.
var (
	ERC20       = mustParse(erc20ABI)
	RouterV2    = mustParse(routerV2ABI)
	Comptroller = mustParse(comptrollerABI)
	CToken      = mustParse(cTokenABI)
	PriceOracle = mustParse(priceOracleABI)
	AavePool    = mustParse(aavePoolABI)
	Executor    = mustParse(executorABI)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("evm: invalid abi: " + err.Error())
	}
	return parsed
}
