// Package config loads reign-state configuration and resource manifests.
//
// # Configuration
//
// Configuration is YAML read through viper, layered over Default() and
// REIGN_ environment overrides (REIGN_STORAGE_PATH, REIGN_LOGGING_LEVEL...):
//
//	storage:
//	  driver: sqlite        # or badger
//	  path: .reign/state.db
//	  busy_timeout: 5s
//	policy:
//	  enabled: true
//	  paths: [./policies]
//	  max_removals: 10
//	logging:
//	  level: info
//	metrics:
//	  textfile_path: /var/lib/node_exporter/reign.prom
//
// The engine itself never reads configuration; callers hand the relevant
// sections to stores.OpenBackend and policy.NewEngine.
//
// # Manifests
//
// ManifestParser reads the resources an agent reports:
//
//	resources:
//	  - resource_id: db
//	    resource_type: container
//	    agent_type: docker
//	    metadata: {image: postgres:16, protected: true}
//	  - resource_id: api
//	    resource_type: container
//	    agent_type: docker
//	    depends_on: [db]
//
// Problems are collected as ValidationError values with file, line and
// column so every issue in a manifest is reported at once.
package config
