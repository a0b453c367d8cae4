package util

import (
	"os"
	"testing"
)

func TestConfigConstants(t *testing.T) {
	if Name != "lodestone" {
		t.Errorf("Expected Name 'lodestone', got '%s'", Name)
	}

	if ConfigFileName != "config.yaml" {
		t.Errorf("Expected ConfigFileName 'config.yaml', got '%s'", ConfigFileName)
	}
}

func TestReadConfWithYaml(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  sslDomain: example.com
  withFederation: true
  secret: topsecret
  deliveryWorkers: 4
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.Host != "127.0.0.1" {
		t.Errorf("Expected Host '127.0.0.1', got '%s'", config.Conf.Host)
	}

	if config.Conf.HttpPort != 9999 {
		t.Errorf("Expected HttpPort 9999, got %d", config.Conf.HttpPort)
	}

	if config.Conf.SslDomain != "example.com" {
		t.Errorf("Expected SslDomain 'example.com', got '%s'", config.Conf.SslDomain)
	}

	if !config.Conf.WithFederation {
		t.Error("Expected WithFederation to be true")
	}

	if config.Conf.Secret != "topsecret" {
		t.Errorf("Expected Secret 'topsecret', got '%s'", config.Conf.Secret)
	}

	if config.Conf.DeliveryWorkers != 4 {
		t.Errorf("Expected DeliveryWorkers 4, got %d", config.Conf.DeliveryWorkers)
	}
}

func TestReadConfWithEnvOverrides(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  sslDomain: example.com
  withFederation: false
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	os.Setenv("LODESTONE_HOST", "192.168.1.1")
	os.Setenv("LODESTONE_HTTPPORT", "8080")
	os.Setenv("LODESTONE_SSLDOMAIN", "test.example.com")
	os.Setenv("LODESTONE_WITH_FEDERATION", "true")
	os.Setenv("LODESTONE_SECRET", "env-secret")
	os.Setenv("LODESTONE_DELIVERY_WORKERS", "2")

	defer func() {
		os.Unsetenv("LODESTONE_HOST")
		os.Unsetenv("LODESTONE_HTTPPORT")
		os.Unsetenv("LODESTONE_SSLDOMAIN")
		os.Unsetenv("LODESTONE_WITH_FEDERATION")
		os.Unsetenv("LODESTONE_SECRET")
		os.Unsetenv("LODESTONE_DELIVERY_WORKERS")
	}()

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	// Environment variables should override YAML values
	if config.Conf.Host != "192.168.1.1" {
		t.Errorf("Expected Host '192.168.1.1' from env, got '%s'", config.Conf.Host)
	}

	if config.Conf.HttpPort != 8080 {
		t.Errorf("Expected HttpPort 8080 from env, got %d", config.Conf.HttpPort)
	}

	if config.Conf.SslDomain != "test.example.com" {
		t.Errorf("Expected SslDomain 'test.example.com' from env, got '%s'", config.Conf.SslDomain)
	}

	if !config.Conf.WithFederation {
		t.Error("Expected WithFederation to be true from env")
	}

	if config.Conf.Secret != "env-secret" {
		t.Errorf("Expected Secret 'env-secret' from env, got '%s'", config.Conf.Secret)
	}

	if config.Conf.DeliveryWorkers != 2 {
		t.Errorf("Expected DeliveryWorkers 2 from env, got %d", config.Conf.DeliveryWorkers)
	}
}

func TestReadConfMissingFileUsesDefaults(t *testing.T) {
	os.Remove("config.yaml")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf should fall back to embedded defaults: %v", err)
	}

	if config.Conf.HttpPort != 8080 {
		t.Errorf("Expected default HttpPort 8080, got %d", config.Conf.HttpPort)
	}

	if config.Conf.WithFederation {
		t.Error("Expected WithFederation to default to false")
	}
}

func TestReadConfInvalidYaml(t *testing.T) {
	invalidYaml := `
conf:
  host: 127.0.0.1
  httpPort: not_a_number
  invalid yaml structure
`
	err := os.WriteFile("config.yaml", []byte(invalidYaml), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	_, err = ReadConf()
	if err == nil {
		t.Error("Expected error when parsing invalid YAML")
	}
}

func TestReadConfWithFederationFalseEnv(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  sslDomain: example.com
  withFederation: true
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	// Env is not "true", so it should use the YAML value
	os.Setenv("LODESTONE_WITH_FEDERATION", "false")
	defer os.Unsetenv("LODESTONE_WITH_FEDERATION")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if !config.Conf.WithFederation {
		t.Error("Expected WithFederation to be true from YAML when env is not 'true'")
	}
}

func TestReadConfWorkerDefault(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  sslDomain: example.com
  deliveryWorkers: 0
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.DeliveryWorkers != 8 {
		t.Errorf("Expected DeliveryWorkers to default to 8, got %d", config.Conf.DeliveryWorkers)
	}
}
