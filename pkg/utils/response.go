package utils

import (
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// ResponseData is the envelope every REST handler answers with.
type ResponseData struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Results any    `json:"results,omitempty"`
}

// PanicIfNeeded panics with err so the recovery middleware can render it.
func PanicIfNeeded(err any) {
	if err != nil {
		logrus.Errorf("[PANIC] %v", err)
		panic(err)
	}
}

// LoadConfig reads a .env file from path (if any) into the process
// environment and lets viper pick up the same keys.
func LoadConfig(path string) {
	if err := godotenv.Load(path + "/.env"); err != nil {
		logrus.Debugf("[CONFIG] no .env file loaded from %s: %v", path, err)
	}
	viper.AutomaticEnv()
}
