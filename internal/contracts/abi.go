// Package contracts holds the ABI fragments of the on-chain contracts the
// escrow client talks to. Only the methods we call are listed.
package contracts

// RegistryAddress is the fixed address of the Celo core contract registry.
const RegistryAddress = "0x000000000000000000000000000000000000ce10"

// Registry identifiers.
const (
	EscrowRegistryID      = "Escrow"
	GoldTokenRegistryID   = "GoldToken"
	StableTokenRegistryID = "StableToken"
)

var RegistryABI = []byte(`[
  {
    "type": "function",
    "name": "getAddressForString",
    "stateMutability": "view",
    "inputs": [{"name": "identifier", "type": "string"}],
    "outputs": [{"name": "", "type": "address"}]
  }
]`)

var EscrowABI = []byte(`[
  {
    "type": "function",
    "name": "transfer",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "identifier", "type": "bytes32"},
      {"name": "token", "type": "address"},
      {"name": "value", "type": "uint256"},
      {"name": "expirySeconds", "type": "uint256"},
      {"name": "paymentId", "type": "address"},
      {"name": "minAttestations", "type": "uint256"}
    ],
    "outputs": [{"name": "", "type": "bool"}]
  },
  {
    "type": "function",
    "name": "withdraw",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "paymentId", "type": "address"},
      {"name": "v", "type": "uint8"},
      {"name": "r", "type": "bytes32"},
      {"name": "s", "type": "bytes32"}
    ],
    "outputs": [{"name": "", "type": "bool"}]
  },
  {
    "type": "function",
    "name": "revoke",
    "stateMutability": "nonpayable",
    "inputs": [{"name": "paymentId", "type": "address"}],
    "outputs": [{"name": "", "type": "bool"}]
  },
  {
    "type": "function",
    "name": "getSentPaymentIds",
    "stateMutability": "view",
    "inputs": [{"name": "sender", "type": "address"}],
    "outputs": [{"name": "", "type": "address[]"}]
  },
  {
    "type": "function",
    "name": "getReceivedPaymentIds",
    "stateMutability": "view",
    "inputs": [{"name": "identifier", "type": "bytes32"}],
    "outputs": [{"name": "", "type": "address[]"}]
  },
  {
    "type": "function",
    "name": "escrowedPayments",
    "stateMutability": "view",
    "inputs": [{"name": "", "type": "address"}],
    "outputs": [
      {"name": "recipientIdentifier", "type": "bytes32"},
      {"name": "sender", "type": "address"},
      {"name": "token", "type": "address"},
      {"name": "value", "type": "uint256"},
      {"name": "sentIndex", "type": "uint256"},
      {"name": "receivedIndex", "type": "uint256"},
      {"name": "timestamp", "type": "uint256"},
      {"name": "expirySeconds", "type": "uint256"},
      {"name": "minAttestations", "type": "uint256"}
    ]
  }
]`)

var ERC20ABI = []byte(`[
  {
    "type": "function",
    "name": "approve",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "spender", "type": "address"},
      {"name": "value", "type": "uint256"}
    ],
    "outputs": [{"name": "", "type": "bool"}]
  },
  {
    "type": "function",
    "name": "allowance",
    "stateMutability": "view",
    "inputs": [
      {"name": "owner", "type": "address"},
      {"name": "spender", "type": "address"}
    ],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "balanceOf",
    "stateMutability": "view",
    "inputs": [{"name": "owner", "type": "address"}],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "transfer",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "to", "type": "address"},
      {"name": "value", "type": "uint256"}
    ],
    "outputs": [{"name": "", "type": "bool"}]
  }
]`)
