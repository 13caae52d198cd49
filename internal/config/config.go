// internal/config/config.go
package config

import (
	"errors"
	"io/fs"

	"github.com/spf13/viper"
)

type MpesaConfig struct {
	ConsumerKey        string
	ConsumerSecret     string
	ShortCode          string
	Passkey            string
	CallbackURL        string
	BaseURL            string
	InitiatorName      string
	SecurityCredential string
}

type ChainConfig struct {
	RPCURL       string
	ChainID      int64
	TokenAddress string
}

type Config struct {
	ListenAddr     string
	DatabaseURL    string
	MigrationsPath string
	EncryptionKey  string
	Debug          bool
	Mpesa          MpesaConfig
	Chain          ChainConfig
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Environment variables alone are fine in containers. An explicit
		// config file path surfaces a missing file as fs.ErrNotExist, not
		// as viper's ConfigFileNotFoundError.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	viper.SetDefault("LISTEN_ADDR", ":8080")
	viper.SetDefault("MIGRATIONS_PATH", "migrations")
	viper.SetDefault("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke")
	viper.SetDefault("MPESA_INITIATOR_NAME", "testapi")
	viper.SetDefault("CHAIN_ID", 1)

	config := &Config{
		ListenAddr:     viper.GetString("LISTEN_ADDR"),
		DatabaseURL:    viper.GetString("DATABASE_URL"),
		MigrationsPath: viper.GetString("MIGRATIONS_PATH"),
		EncryptionKey:  viper.GetString("ENCRYPTION_KEY"),
		Debug:          viper.GetBool("DEBUG"),
		Mpesa: MpesaConfig{
			ConsumerKey:        viper.GetString("MPESA_CONSUMER_KEY"),
			ConsumerSecret:     viper.GetString("MPESA_CONSUMER_SECRET"),
			ShortCode:          viper.GetString("MPESA_BUSINESS_SHORTCODE"),
			Passkey:            viper.GetString("MPESA_PASSKEY"),
			CallbackURL:        viper.GetString("MPESA_CALLBACK_URL"),
			BaseURL:            viper.GetString("MPESA_BASE_URL"),
			InitiatorName:      viper.GetString("MPESA_INITIATOR_NAME"),
			SecurityCredential: viper.GetString("MPESA_SECURITY_CREDENTIAL"),
		},
		Chain: ChainConfig{
			RPCURL:       viper.GetString("CHAIN_RPC_URL"),
			ChainID:      viper.GetInt64("CHAIN_ID"),
			TokenAddress: viper.GetString("CHAIN_TOKEN_ADDRESS"),
		},
	}

	return config, nil
}
