package chain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// genesisBalance funds each non-coinbase account with one million ether.
const genesisBalance = "0xD3C21BCECCEDA1000000"

type Account struct {
	Address    common.Address
	PrivateKey string
	PublicKey  string
}

func GenerateAccount() (Account, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return Account{}, fmt.Errorf("failed to generate key: %w", err)
	}

	return Account{
		Address:    crypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(key)),
		PublicKey:  hex.EncodeToString(crypto.FromECDSAPub(&key.PublicKey)[1:]),
	}, nil
}

func GenerateAccounts(n int) ([]Account, error) {
	accounts := make([]Account, 0, n)
	for i := 0; i < n; i++ {
		account, err := GenerateAccount()
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

type (
	genesisConfig struct {
		ChainID             int64    `json:"chainId"`
		HomesteadBlock      int      `json:"homesteadBlock"`
		EIP150Block         int      `json:"eip150Block"`
		EIP155Block         int      `json:"eip155Block"`
		EIP158Block         int      `json:"eip158Block"`
		ByzantiumBlock      int      `json:"byzantiumBlock"`
		ConstantinopleBlock int      `json:"constantinopleBlock"`
		PetersburgBlock     int      `json:"petersburgBlock"`
		Ethash              struct{} `json:"ethash"`
	}

	genesisAlloc struct {
		Balance string `json:"balance"`
	}

	genesisDoc struct {
		Config     genesisConfig           `json:"config"`
		Difficulty string                  `json:"difficulty"`
		GasLimit   string                  `json:"gasLimit"`
		Alloc      map[string]genesisAlloc `json:"alloc"`
	}
)

// Genesis renders a geth genesis with every fork active at block 0.
// accounts[0] is the coinbase and is not pre-funded.
func Genesis(chainID int64, accounts []Account) ([]byte, error) {
	doc := genesisDoc{
		Config:     genesisConfig{ChainID: chainID},
		Difficulty: "1",
		GasLimit:   "8000000",
		Alloc:      map[string]genesisAlloc{},
	}

	for i, account := range accounts {
		if i == 0 {
			continue
		}
		doc.Alloc[account.Address.Hex()] = genesisAlloc{Balance: genesisBalance}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal genesis: %w", err)
	}
	return data, nil
}
