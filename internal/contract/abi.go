package contract

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const trackingABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "packageId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "creator", "type": "address"},
      {"indexed": false, "internalType": "string", "name": "description", "type": "string"}
    ],
    "name": "PackageCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "packageId", "type": "uint256"},
      {"indexed": false, "internalType": "uint8", "name": "newStatus", "type": "uint8"},
      {"indexed": false, "internalType": "address", "name": "updatedBy", "type": "address"}
    ],
    "name": "StatusUpdated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "packageId", "type": "uint256"},
      {"indexed": false, "internalType": "int256", "name": "temperature", "type": "int256"}
    ],
    "name": "TemperatureUpdated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "packageId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "previousOwner", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "newOwner", "type": "address"}
    ],
    "name": "OwnershipTransferred",
    "type": "event"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "packageId", "type": "uint256"}],
    "name": "getPackage",
    "outputs": [
      {"internalType": "address", "name": "owner", "type": "address"},
      {"internalType": "uint8", "name": "status", "type": "uint8"},
      {"internalType": "int256", "name": "temperature", "type": "int256"}
    ],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	trackingABI     abi.ABI
	trackingABIOnce sync.Once
	trackingABIErr  error
)

// TrackingABI returns the parsed tracking contract ABI.
func TrackingABI() (abi.ABI, error) {
	trackingABIOnce.Do(func() {
		trackingABI, trackingABIErr = abi.JSON(strings.NewReader(trackingABIJSON))
	})
	return trackingABI, trackingABIErr
}
