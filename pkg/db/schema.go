package db

// migrationsSQL creates the record table partitioned by year and the per-year
// ETL metadata table. Statements are split on ';' so none may contain one.
const migrationsSQL = `
CREATE TABLE IF NOT EXISTS srag_data (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	year INTEGER NOT NULL,
	dt_notific DATE,
	dt_sin_pri DATE,
	dt_interna DATE,
	dt_evoluca DATE,
	sg_uf TEXT,
	id_municip TEXT,
	cs_sexo INTEGER,
	cs_sexo_desc TEXT,
	nu_idade_n INTEGER,
	faixa_etaria TEXT,
	evolucao INTEGER,
	evolucao_desc TEXT,
	uti INTEGER,
	uti_desc TEXT,
	vacina INTEGER,
	vacina_desc TEXT,
	classi_fin INTEGER,
	classi_fin_desc TEXT,

	-- symptoms (1=yes, 2=no, 9=ignored)
	febre INTEGER,
	tosse INTEGER,
	garganta INTEGER,
	dispneia INTEGER,
	desc_resp INTEGER,
	saturacao INTEGER,
	diarreia INTEGER,
	vomito INTEGER,
	outro_sin INTEGER,

	-- comorbidities
	cardiopati INTEGER,
	hematologi INTEGER,
	sind_down INTEGER,
	hepatica INTEGER,
	asma INTEGER,
	diabetes INTEGER,
	neurologic INTEGER,
	pneumopati INTEGER,
	imunodepre INTEGER,
	renal INTEGER,
	obesidade INTEGER,

	mes_notific INTEGER,
	ano_notific INTEGER,
	semana_epidemio INTEGER,
	regiao TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,

	UNIQUE(year, dt_notific, sg_uf, cs_sexo, nu_idade_n, evolucao)
);

CREATE TABLE IF NOT EXISTS etl_metadata (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	year INTEGER UNIQUE,
	run_id TEXT,
	url TEXT,
	download_date TIMESTAMP,
	file_hash TEXT,
	total_records INTEGER,
	processed_records INTEGER,
	data_quality_score REAL,
	processing_time_seconds REAL,
	status TEXT,
	error_log TEXT
);

CREATE INDEX IF NOT EXISTS idx_year ON srag_data(year);
CREATE INDEX IF NOT EXISTS idx_uf ON srag_data(sg_uf);
CREATE INDEX IF NOT EXISTS idx_dt_notific ON srag_data(dt_notific);
CREATE INDEX IF NOT EXISTS idx_evolucao ON srag_data(evolucao);
CREATE INDEX IF NOT EXISTS idx_vacina ON srag_data(vacina);
`
