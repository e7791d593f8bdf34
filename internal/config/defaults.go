package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.SessionDBPath == "" {
		cfg.Storage.SessionDBPath = "/usr/local/var/kotae/data/db/sessions.db"
	}
	if cfg.Storage.IntentsPath == "" {
		cfg.Storage.IntentsPath = "/usr/local/etc/kotae/intents.yaml"
	}
	if cfg.Storage.IntentIndexPath == "" {
		cfg.Storage.IntentIndexPath = "/usr/local/var/kotae/data/indices/intents.idx"
	}
	if cfg.Storage.KnowledgeIndexPath == "" {
		cfg.Storage.KnowledgeIndexPath = "/usr/local/var/kotae/data/indices/knowledge.idx"
	}
	if cfg.Storage.KnowledgeMetadataPath == "" {
		cfg.Storage.KnowledgeMetadataPath = "/usr/local/var/kotae/data/indices/knowledge.meta.json"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-v3"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1024
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 30
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "qwen-plus"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 500
	}
	if cfg.LLM.TimeoutSeconds == 0 {
		cfg.LLM.TimeoutSeconds = 30
	}
	if cfg.Resolver.Threshold == 0 {
		cfg.Resolver.Threshold = 0.6
	}
	if cfg.Resolver.HistoryWindow == 0 {
		cfg.Resolver.HistoryWindow = 10
	}
}
