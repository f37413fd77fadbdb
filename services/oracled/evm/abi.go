package evm

const aggregatorV3ABI = `[
	{"inputs": [], "name": "decimals", "outputs": [{"internalType": "uint8", "name": "", "type": "uint8"}], "stateMutability": "view", "type": "function"},
	{
		"inputs": [],
		"name": "latestRoundData",
		"outputs": [
			{"internalType": "uint80", "name": "roundId", "type": "uint80"},
			{"internalType": "int256", "name": "answer", "type": "int256"},
			{"internalType": "uint256", "name": "startedAt", "type": "uint256"},
			{"internalType": "uint256", "name": "updatedAt", "type": "uint256"},
			{"internalType": "uint80", "name": "answeredInRound", "type": "uint80"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

const uniswapV3FactoryABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "tokenA", "type": "address"},
			{"internalType": "address", "name": "tokenB", "type": "address"},
			{"internalType": "uint24", "name": "fee", "type": "uint24"}
		],
		"name": "getPool",
		"outputs": [{"internalType": "address", "name": "pool", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

const uniswapV3PoolABI = `[
	{
		"inputs": [{"internalType": "uint32[]", "name": "secondsAgos", "type": "uint32[]"}],
		"name": "observe",
		"outputs": [
			{"internalType": "int56[]", "name": "tickCumulatives", "type": "int56[]"},
			{"internalType": "uint160[]", "name": "secondsPerLiquidityCumulativeX128s", "type": "uint160[]"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

const uniswapV2PairABI = `[
	{
		"inputs": [],
		"name": "getReserves",
		"outputs": [
			{"internalType": "uint112", "name": "_reserve0", "type": "uint112"},
			{"internalType": "uint112", "name": "_reserve1", "type": "uint112"},
			{"internalType": "uint32", "name": "_blockTimestampLast", "type": "uint32"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{"inputs": [], "name": "price0CumulativeLast", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "price1CumulativeLast", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

const pendlePtOracleABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "market", "type": "address"},
			{"internalType": "uint32", "name": "duration", "type": "uint32"}
		],
		"name": "getOracleState",
		"outputs": [
			{"internalType": "bool", "name": "increaseCardinalityRequired", "type": "bool"},
			{"internalType": "uint16", "name": "cardinalityRequired", "type": "uint16"},
			{"internalType": "bool", "name": "oldestObservationSatisfied", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "market", "type": "address"},
			{"internalType": "uint32", "name": "duration", "type": "uint32"}
		],
		"name": "getPtToAssetRate",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "market", "type": "address"},
			{"internalType": "uint32", "name": "duration", "type": "uint32"}
		],
		"name": "getPtToSyRate",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

const erc20MetadataABI = `[
	{"inputs": [], "name": "decimals", "outputs": [{"internalType": "uint8", "name": "", "type": "uint8"}], "stateMutability": "view", "type": "function"}
]`
