package chain

// ABI fragments for the contracts the relay treats as black boxes: the
// minimal forwarder (EIP-2771-style), the EIP-3009 subset of the
// stablecoin, and the swap router used by auto-rebalance. Kept minimal on purpose — only the functions/events this
// service actually calls, mirroring the teacher's constants.go pattern of
// shipping just-enough ABI JSON per mechanism.
var (
	// ForwarderABI covers getNonce, verify, execute and the Executed event.
	ForwarderABI = []byte(`[
		{
			"inputs": [{"name": "from", "type": "address"}],
			"name": "getNonce",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [
				{
					"name": "req",
					"type": "tuple",
					"components": [
						{"name": "from", "type": "address"},
						{"name": "to", "type": "address"},
						{"name": "value", "type": "uint256"},
						{"name": "gas", "type": "uint256"},
						{"name": "nonce", "type": "uint256"},
						{"name": "deadline", "type": "uint256"},
						{"name": "data", "type": "bytes"}
					]
				},
				{"name": "signature", "type": "bytes"}
			],
			"name": "verify",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [
				{
					"name": "req",
					"type": "tuple",
					"components": [
						{"name": "from", "type": "address"},
						{"name": "to", "type": "address"},
						{"name": "value", "type": "uint256"},
						{"name": "gas", "type": "uint256"},
						{"name": "nonce", "type": "uint256"},
						{"name": "deadline", "type": "uint256"},
						{"name": "data", "type": "bytes"}
					]
				},
				{"name": "signature", "type": "bytes"}
			],
			"name": "execute",
			"outputs": [
				{"name": "success", "type": "bool"},
				{"name": "returndata", "type": "bytes"}
			],
			"stateMutability": "payable",
			"type": "function"
		},
		{
			"anonymous": false,
			"inputs": [
				{"indexed": false, "name": "from", "type": "address"},
				{"indexed": false, "name": "to", "type": "address"},
				{"indexed": false, "name": "success", "type": "bool"},
				{"indexed": false, "name": "returnData", "type": "bytes"}
			],
			"name": "Executed",
			"type": "event"
		}
	]`)

	// StablecoinABI covers the EIP-3009 subset plus balanceOf, and the
	// approve/allowance pair the rebalance task uses.
	StablecoinABI = []byte(`[
		{
			"inputs": [{"name": "account", "type": "address"}],
			"name": "balanceOf",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "validAfter", "type": "uint256"},
				{"name": "validBefore", "type": "uint256"},
				{"name": "nonce", "type": "bytes32"},
				{"name": "v", "type": "uint8"},
				{"name": "r", "type": "bytes32"},
				{"name": "s", "type": "bytes32"}
			],
			"name": "transferWithAuthorization",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "authorizer", "type": "address"},
				{"name": "nonce", "type": "bytes32"}
			],
			"name": "authorizationState",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [],
			"name": "DOMAIN_SEPARATOR",
			"outputs": [{"name": "", "type": "bytes32"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "spender", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"name": "approve",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"name": "allowance",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	// RouterABI covers the Uniswap-V2-style swap function the rebalance task
	// uses to convert stablecoin back into the chain's native token.
	RouterABI = []byte(`[
		{
			"inputs": [
				{"name": "amountIn", "type": "uint256"},
				{"name": "amountOutMin", "type": "uint256"},
				{"name": "path", "type": "address[]"},
				{"name": "to", "type": "address"},
				{"name": "deadline", "type": "uint256"}
			],
			"name": "swapExactTokensForETH",
			"outputs": [{"name": "amounts", "type": "uint256[]"}],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)
)
