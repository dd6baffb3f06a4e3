package store

import (
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"reflex-engine/internal/pkg/crypto"
	"reflex-engine/internal/pkg/logger"
	pkgErrors "reflex-engine/pkg/errors"
)

// masterID is the reserved id of the seeded master apikey and policy.
const masterID = 100

// tableDDL defines each table. Archived kinds get a shadow table plus a
// trigger copying the previous row on update.
var tableDDL = map[string][]string{
	"Policy": {
		`create table Policy (
		    id int auto_increment not null,
		    name varchar(64) not null,
		    policy text not null,
		    data text,
		    updated_at timestamp not null default current_timestamp on update current_timestamp,
		    updated_by varchar(32) not null,
		    result enum('pass', 'fail') not null default 'pass',
		    sort_order int not null default 1000,
		    primary key(id)
		) engine=InnoDB`,
		`create table PolicyArchive (
		    id int not null,
		    name varchar(64) not null,
		    policy text not null,
		    data text,
		    updated_at timestamp not null,
		    updated_by varchar(32) not null,
		    result enum('pass', 'fail') not null default 'pass',
		    sort_order int not null default 1000,
		    index(id, updated_at),
		    index(id)
		) engine=InnoDB`,
		`CREATE TRIGGER archive_Policy BEFORE UPDATE ON Policy
		   FOR EACH ROW
		     INSERT INTO PolicyArchive SELECT * FROM Policy WHERE NEW.id = id`,
	},
	"Policyscope": {
		`create table Policyscope (
		    id int auto_increment not null,
		    name varchar(64) not null,
		    policy_id int not null,
		    type enum('targeted', 'global') not null default 'targeted',
		    matches text not null,
		    objects varchar(256) not null default '[]',
		    actions varchar(64) not null default 'read',
		    data text,
		    updated_at timestamp not null default current_timestamp on update current_timestamp,
		    updated_by varchar(32) not null,
		    primary key(id),
		    unique(name)
		) engine=InnoDB`,
		`create table PolicyscopeArchive (
		    id int not null,
		    name varchar(64) not null,
		    policy_id int not null,
		    type enum('targeted', 'global') not null default 'targeted',
		    matches text not null,
		    objects varchar(256) not null default '[]',
		    actions varchar(64) not null default 'read',
		    data text,
		    updated_at timestamp not null,
		    updated_by varchar(32) not null,
		    index(id, updated_at),
		    index(id)
		) engine=InnoDB`,
		`CREATE TRIGGER archive_Policyscope BEFORE UPDATE ON Policyscope
		   FOR EACH ROW
		     INSERT INTO PolicyscopeArchive SELECT * FROM Policyscope WHERE NEW.id = id`,
		`create table PolicyFor (
		    policy_id int not null,
		    obj enum('Pipeline', 'Service', 'Config', 'Instance', 'Policy',
		             'Policyscope', 'Apikey', 'Build', 'Grp', 'State'),
		    action enum('write', 'read', 'admin') default 'read',
		    pscope_id int not null default 0,
		    target_id int not null default 0,
		    primary key(obj, policy_id, target_id, action),
		    index(obj, target_id),
		    index(obj)
		) engine=InnoDB`,
	},
	"Pipeline": {
		`create table Pipeline (
		    id int auto_increment not null,
		    name varchar(64) not null,
		    updated_at timestamp not null default current_timestamp on update current_timestamp,
		    updated_by varchar(32) not null,
		    data text,
		    primary key(id),
		    unique(name)
		) engine=InnoDB`,
		`create table PipelineArchive (
		    id int not null,
		    name varchar(64) not null,
		    updated_at timestamp not null,
		    updated_by varchar(32) not null,
		    data text,
		    index(id, updated_at),
		    index(id)
		) engine=InnoDB`,
		`CREATE TRIGGER archive_Pipeline BEFORE UPDATE ON Pipeline
		   FOR EACH ROW
		     INSERT INTO PipelineArchive SELECT * FROM Pipeline WHERE NEW.id = id`,
	},
	"Service": {
		`create table Service (
		    id int auto_increment not null,
		    name varchar(64) not null,
		    updated_at timestamp not null default current_timestamp on update current_timestamp,
		    updated_by varchar(32) not null,
		    data text,
		    lane varchar(32) not null default '',
		    region varchar(32) not null default '',
		    pipeline_id int not null default 0,
		    config_id int not null default 0,
		    primary key(id),
		    unique(name)
		) engine=InnoDB`,
		`create table ServiceArchive (
		    id int not null,
		    name varchar(64) not null,
		    updated_at timestamp not null,
		    updated_by varchar(32) not null,
		    data text,
		    lane varchar(32) not null default '',
		    region varchar(32) not null default '',
		    pipeline_id int not null default 0,
		    config_id int not null default 0,
		    index(id, updated_at),
		    index(id)
		) engine=InnoDB`,
		`CREATE TRIGGER archive_Service BEFORE UPDATE ON Service
		   FOR EACH ROW
		     INSERT INTO ServiceArchive SELECT * FROM Service WHERE NEW.id = id`,
	},
	"Config": {
		`create table Config (
		    id int auto_increment not null,
		    name varchar(64) not null,
		    updated_at timestamp not null default current_timestamp on update current_timestamp,
		    updated_by varchar(32) not null,
		    data text,
		    primary key(id),
		    unique(name)
		) engine=InnoDB`,
		`create table ConfigArchive (
		    id int not null,
		    name varchar(64) not null,
		    updated_at timestamp not null,
		    updated_by varchar(32) not null,
		    data text,
		    index(id, updated_at),
		    index(id)
		) engine=InnoDB`,
		`CREATE TRIGGER archive_Config BEFORE UPDATE ON Config
		   FOR EACH ROW
		     INSERT INTO ConfigArchive SELECT * FROM Config WHERE NEW.id = id`,
	},
	"Instance": {
		`create table Instance (
		    id int auto_increment not null,
		    name varchar(64) not null,
		    updated_at timestamp not null default current_timestamp on update current_timestamp,
		    updated_by varchar(32) not null,
		    service_id int not null,
		    data text,
		    primary key(id),
		    unique(name)
		) engine=InnoDB`,
	},
	"Apikey": {
		`create table Apikey (
		    id int auto_increment not null,
		    name varchar(64) not null,
		    uuid char(37) not null,
		    updated_at timestamp not null default current_timestamp on update current_timestamp,
		    updated_by varchar(32) not null,
		    secrets text,
		    data text,
		    primary key(id),
		    unique(name),
		    unique(uuid)
		) engine=InnoDB`,
	},
	"Build": {
		`create table Build (
		    id int auto_increment not null,
		    name varchar(64) not null,
		    updated_at timestamp not null default current_timestamp on update current_timestamp,
		    updated_by varchar(32) not null,
		    data text,
		    primary key(id),
		    unique(name)
		) engine=InnoDB`,
	},
	"Grp": {
		`create table Grp (
		    id int auto_increment not null,
		    name varchar(64) not null,
		    updated_at timestamp not null default current_timestamp on update current_timestamp,
		    updated_by varchar(32) not null,
		    _grp text,
		    typ varchar(32),
		    data text,
		    primary key(id),
		    unique(name)
		) engine=InnoDB`,
	},
	"State": {
		`create table State (
		    id int auto_increment not null,
		    name varchar(64) not null,
		    updated_at timestamp not null default current_timestamp on update current_timestamp,
		    updated_by varchar(32) not null,
		    data text,
		    primary key(id),
		    unique(name)
		) engine=InnoDB`,
	},
	"AuthSession": {
		`create table AuthSession (
		    token_id int not null,
		    name varchar(256) not null,
		    secret varchar(256) not null,
		    created_at timestamp not null default current_timestamp,
		    expires_at int not null,
		    session_data text,
		    index(token_id, name)
		) engine=InnoDB`,
	},
}

// schemaOrder fixes table creation order; relations are soft so only the
// scope index cares.
var schemaOrder = []string{
	"Policy", "Policyscope", "Pipeline", "Service", "Config", "Instance",
	"Apikey", "Build", "Grp", "AuthSession", "State",
}

// dropDDL tears a table group down, triggers first.
func dropDDL(table string) []string {
	stmts := []string{"DROP TRIGGER IF EXISTS archive_" + table,
		"drop table if exists " + table,
		"drop table if exists " + table + "Archive"}
	if table == "Policyscope" {
		stmts = append(stmts, "drop table if exists PolicyFor")
	}
	return stmts
}

// Initialize creates any missing schema. With reset, everything is dropped
// and rebuilt first. When the apikey table is (re)created, a master identity
// is seeded and its secret returned for one-time operator capture.
func (s *Store) Initialize(reset bool) (string, error) {
	newMaster := false
	for _, table := range schemaOrder {
		exists := s.db.Migrator().HasTable(table)
		if exists && !reset {
			continue
		}
		if table == "Apikey" {
			newMaster = true
		}
		if reset {
			for _, stmt := range dropDDL(table) {
				if err := s.db.Exec(stmt).Error; err != nil {
					return "", pkgErrors.Internal("cannot drop "+table, err)
				}
			}
		}
		for _, stmt := range tableDDL[table] {
			if err := s.db.Exec(stmt).Error; err != nil {
				return "", pkgErrors.Internal("cannot create "+table, err)
			}
		}
		logger.Info("initialized table", zap.String("table", table))
	}

	if !reset && !newMaster {
		return "", nil
	}
	return s.seedMaster()
}

// seedMaster installs the master policy, a global admin scope matching
// everything, and the master apikey with a fresh secret.
func (s *Store) seedMaster() (string, error) {
	err := s.db.Exec(`INSERT INTO Policy
	        SET id = ?, name = 'master', policy = 'token_name=="master"',
	            data = '{}', updated_by = ''`, masterID).Error
	if err != nil {
		return "", pkgErrors.Internal("cannot seed master policy", err)
	}

	_, err = s.Create(mustKind("policyscope"), Object{
		"name":    "master",
		"matches": "True",
		"policy":  "master",
		"actions": "admin",
		"objects": []interface{}{"*"},
		"type":    "global",
	}, nil)
	if err != nil {
		return "", pkgErrors.Internal("cannot seed master policyscope", err)
	}

	secret, err := crypto.RandomSecret(apikeySecretLen)
	if err != nil {
		return "", pkgErrors.Internal("cannot generate master secret", err)
	}
	err = s.db.Exec(`INSERT INTO Apikey
	        SET id = ?, uuid = ?, name = 'master', secrets = ?,
	            data = '{}', updated_by = ''`,
		masterID, uuid.NewString(), `["`+secret+`"]`).Error
	if err != nil {
		return "", pkgErrors.Internal("cannot seed master apikey", err)
	}

	logger.Info("initialized schema master apikey, rotate after first use",
		zap.String("REFLEX_APIKEY", "master."+secret))
	return "master." + secret, nil
}

func mustKind(name string) *Kind {
	k, ok := KindByName(name)
	if !ok {
		panic("unknown kind " + strings.ToLower(name))
	}
	return k
}
